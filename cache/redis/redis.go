// Package redis provides a Redis-backed CacheStore.
//
// Each entry is a Redis hash keyed by fingerprint, so several gateway
// instances can share one cache. Usage counting runs in a Lua script to stay
// atomic across instances.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	gen "github.com/ineyio/gengateway"
)

// Store is a Redis-backed CacheStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

var (
	_ gen.CacheStore = (*Store)(nil)
	_ gen.CacheAdmin = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "gengateway:cache:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithTTL sets a Redis expiry on stored entries. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Redis-backed CacheStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "gengateway:cache:",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(fingerprint string) string {
	return s.keyPrefix + fingerprint
}

// touchScript increments usage on an existing entry.
// KEYS[1] = entry hash key
// ARGV[1] = now (unix millis)
//
// Returns the new usage count, or 0 when the entry does not exist.
var touchScript = goredis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
    return 0
end
redis.call("HSET", key, "last_used_at", ARGV[1])
return redis.call("HINCRBY", key, "usage_count", 1)
`)

func (s *Store) Lookup(ctx context.Context, fingerprint string) (gen.CacheEntry, bool, error) {
	vals, err := s.client.HGetAll(ctx, s.key(fingerprint)).Result()
	if err != nil {
		return gen.CacheEntry{}, false, fmt.Errorf("gengateway/redis: lookup: %w", err)
	}
	if len(vals) == 0 {
		s.misses.Add(1)
		return gen.CacheEntry{}, false, nil
	}

	e, err := decodeEntry(fingerprint, vals)
	if err != nil {
		return gen.CacheEntry{}, false, err
	}
	s.hits.Add(1)
	return e, true, nil
}

func (s *Store) Store(ctx context.Context, e gen.CacheEntry) error {
	artifact, err := json.Marshal(e.Artifact)
	if err != nil {
		return fmt.Errorf("gengateway/redis: encode artifact: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.LastUsedAt.IsZero() {
		e.LastUsedAt = e.CreatedAt
	}
	if e.UsageCount == 0 {
		e.UsageCount = 1
	}

	key := s.key(e.Fingerprint)
	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key,
			"kind", string(e.Kind),
			"original_prompt", e.OriginalPrompt,
			"final_prompt", e.FinalPrompt,
			"artifact", artifact,
			"fallback", boolString(e.Fallback),
			"diagnostic", e.Diagnostic,
			"model", e.Model,
			"generation_ms", e.GenerationTime.Milliseconds(),
			"created_at", e.CreatedAt.UnixMilli(),
			"last_used_at", e.LastUsedAt.UnixMilli(),
			"usage_count", e.UsageCount,
		)
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("gengateway/redis: store: %w", err)
	}
	return nil
}

func (s *Store) TouchUsage(ctx context.Context, fingerprint string) error {
	_, err := touchScript.Run(ctx, s.client,
		[]string{s.key(fingerprint)},
		s.now().UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("gengateway/redis: touch: %w", err)
	}
	return nil
}

// Stats scans the key prefix. Hits and misses are counted per process.
func (s *Store) Stats(ctx context.Context) (gen.CacheStats, error) {
	st := gen.CacheStats{Hits: s.hits.Load(), Misses: s.misses.Load()}
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		st.Entries++
		fb, err := s.client.HGet(ctx, iter.Val(), "fallback").Result()
		if err != nil && err != goredis.Nil {
			return gen.CacheStats{}, fmt.Errorf("gengateway/redis: stats: %w", err)
		}
		if fb == "1" {
			st.Fallbacks++
		}
	}
	if err := iter.Err(); err != nil {
		return gen.CacheStats{}, fmt.Errorf("gengateway/redis: stats: %w", err)
	}
	return st, nil
}

// Clear deletes every entry under the prefix. Redis expires entries on its
// own, so clearing only expired entries removes nothing.
func (s *Store) Clear(ctx context.Context, expiredOnly bool) (int64, error) {
	if expiredOnly {
		return 0, nil
	}
	var n int64
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		deleted, err := s.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			return n, fmt.Errorf("gengateway/redis: clear: %w", err)
		}
		n += deleted
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("gengateway/redis: clear: %w", err)
	}
	return n, nil
}

func decodeEntry(fingerprint string, vals map[string]string) (gen.CacheEntry, error) {
	e := gen.CacheEntry{
		Fingerprint:    fingerprint,
		Kind:           gen.ContentKind(vals["kind"]),
		OriginalPrompt: vals["original_prompt"],
		FinalPrompt:    vals["final_prompt"],
		Fallback:       vals["fallback"] == "1",
		Diagnostic:     vals["diagnostic"],
		Model:          vals["model"],
	}
	if err := json.Unmarshal([]byte(vals["artifact"]), &e.Artifact); err != nil {
		return gen.CacheEntry{}, fmt.Errorf("gengateway/redis: decode artifact: %w", err)
	}

	genMs, _ := strconv.ParseInt(vals["generation_ms"], 10, 64)
	created, _ := strconv.ParseInt(vals["created_at"], 10, 64)
	used, _ := strconv.ParseInt(vals["last_used_at"], 10, 64)
	e.UsageCount, _ = strconv.ParseInt(vals["usage_count"], 10, 64)

	e.GenerationTime = time.Duration(genMs) * time.Millisecond
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.LastUsedAt = time.UnixMilli(used).UTC()
	return e, nil
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
