// Package postgres provides a PostgreSQL-backed CacheStore.
//
// Entries live in a single table keyed by fingerprint. Usage counting is a
// single UPDATE, so concurrent gateway instances never lose increments.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	gen "github.com/ineyio/gengateway"
)

// Store is a PostgreSQL-backed CacheStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
	ttl         time.Duration
	now         func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

var (
	_ gen.CacheStore = (*Store)(nil)
	_ gen.CacheAdmin = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "gengateway_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// WithTTL treats entries older than ttl as misses.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New creates a PostgreSQL-backed CacheStore.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "gengateway_",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) table() string { return s.tablePrefix + "cache" }

// EnsureSchema creates the cache table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			fingerprint TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			original_prompt TEXT NOT NULL DEFAULT '',
			final_prompt TEXT NOT NULL DEFAULT '',
			artifact JSONB NOT NULL,
			fallback BOOLEAN NOT NULL DEFAULT false,
			diagnostic TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			generation_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_used_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			usage_count BIGINT NOT NULL DEFAULT 1
		);
	`, s.table())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("gengateway/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Lookup(ctx context.Context, fingerprint string) (gen.CacheEntry, bool, error) {
	var (
		e        gen.CacheEntry
		kind     string
		artifact []byte
		genMs    int64
	)
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT fingerprint, kind, original_prompt, final_prompt, artifact, fallback, diagnostic,
			model, generation_ms, created_at, last_used_at, usage_count
			FROM %s WHERE fingerprint = $1`, s.table()),
		fingerprint,
	).Scan(&e.Fingerprint, &kind, &e.OriginalPrompt, &e.FinalPrompt, &artifact, &e.Fallback,
		&e.Diagnostic, &e.Model, &genMs, &e.CreatedAt, &e.LastUsedAt, &e.UsageCount)

	if errors.Is(err, pgx.ErrNoRows) {
		s.misses.Add(1)
		return gen.CacheEntry{}, false, nil
	}
	if err != nil {
		return gen.CacheEntry{}, false, fmt.Errorf("gengateway/postgres: lookup: %w", err)
	}
	if s.ttl > 0 && s.now().Sub(e.CreatedAt) > s.ttl {
		s.misses.Add(1)
		return gen.CacheEntry{}, false, nil
	}
	if err := json.Unmarshal(artifact, &e.Artifact); err != nil {
		return gen.CacheEntry{}, false, fmt.Errorf("gengateway/postgres: decode artifact: %w", err)
	}

	e.Kind = gen.ContentKind(kind)
	e.GenerationTime = time.Duration(genMs) * time.Millisecond
	s.hits.Add(1)
	return e, true, nil
}

// Store upserts the entry.
func (s *Store) Store(ctx context.Context, e gen.CacheEntry) error {
	artifact, err := json.Marshal(e.Artifact)
	if err != nil {
		return fmt.Errorf("gengateway/postgres: encode artifact: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if e.LastUsedAt.IsZero() {
		e.LastUsedAt = e.CreatedAt
	}
	if e.UsageCount == 0 {
		e.UsageCount = 1
	}

	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (fingerprint, kind, original_prompt, final_prompt, artifact, fallback,
				diagnostic, model, generation_ms, created_at, last_used_at, usage_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (fingerprint) DO UPDATE SET
				kind = $2, original_prompt = $3, final_prompt = $4, artifact = $5, fallback = $6,
				diagnostic = $7, model = $8, generation_ms = $9, created_at = $10,
				last_used_at = $11, usage_count = $12`, s.table()),
		e.Fingerprint, string(e.Kind), e.OriginalPrompt, e.FinalPrompt, artifact, e.Fallback,
		e.Diagnostic, e.Model, e.GenerationTime.Milliseconds(), e.CreatedAt, e.LastUsedAt, e.UsageCount,
	)
	if err != nil {
		return fmt.Errorf("gengateway/postgres: store: %w", err)
	}
	return nil
}

func (s *Store) TouchUsage(ctx context.Context, fingerprint string) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET usage_count = usage_count + 1, last_used_at = $1 WHERE fingerprint = $2`,
			s.table()),
		s.now().UTC(), fingerprint,
	)
	if err != nil {
		return fmt.Errorf("gengateway/postgres: touch: %w", err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (gen.CacheStats, error) {
	var st gen.CacheStats
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*), COUNT(*) FILTER (WHERE fallback) FROM %s`, s.table()),
	).Scan(&st.Entries, &st.Fallbacks)
	if err != nil {
		return gen.CacheStats{}, fmt.Errorf("gengateway/postgres: stats: %w", err)
	}
	st.Hits = s.hits.Load()
	st.Misses = s.misses.Load()
	return st, nil
}

func (s *Store) Clear(ctx context.Context, expiredOnly bool) (int64, error) {
	q := fmt.Sprintf(`DELETE FROM %s`, s.table())
	var args []any
	if expiredOnly {
		if s.ttl <= 0 {
			return 0, nil
		}
		q += ` WHERE created_at < $1`
		args = append(args, s.now().UTC().Add(-s.ttl))
	}
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("gengateway/postgres: clear: %w", err)
	}
	return tag.RowsAffected(), nil
}
