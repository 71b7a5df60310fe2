// Package sqlite provides a CacheStore backed by a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	gen "github.com/ineyio/gengateway"
)

// Store is a SQLite-backed CacheStore. A zero TTL keeps entries forever.
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

var (
	_ gen.CacheStore = (*Store)(nil)
	_ gen.CacheAdmin = (*Store)(nil)
)

const createTable = `
CREATE TABLE IF NOT EXISTS generation_cache (
	fingerprint TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	original_prompt TEXT NOT NULL,
	final_prompt TEXT NOT NULL,
	artifact BLOB NOT NULL,
	fallback INTEGER NOT NULL DEFAULT 0,
	diagnostic TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	generation_ms INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	last_used_at INTEGER NOT NULL,
	usage_count INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_generation_cache_kind ON generation_cache(kind);
`

// Option configures Store.
type Option func(*Store)

// WithTTL treats entries older than ttl as misses.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock sets the time source used for TTL checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens (or creates) the database at path and migrates it.
func New(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("gengateway/sqlite: open: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("gengateway/sqlite: migrate: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Lookup(ctx context.Context, fingerprint string) (gen.CacheEntry, bool, error) {
	var (
		e                    gen.CacheEntry
		kind                 string
		artifact             []byte
		fallback             int
		genMs, created, used int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, kind, original_prompt, final_prompt, artifact, fallback, diagnostic, model,
		        generation_ms, created_at, last_used_at, usage_count
		 FROM generation_cache WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&e.Fingerprint, &kind, &e.OriginalPrompt, &e.FinalPrompt, &artifact, &fallback,
		&e.Diagnostic, &e.Model, &genMs, &created, &used, &e.UsageCount)
	if errors.Is(err, sql.ErrNoRows) {
		s.misses.Add(1)
		return gen.CacheEntry{}, false, nil
	}
	if err != nil {
		return gen.CacheEntry{}, false, fmt.Errorf("gengateway/sqlite: lookup: %w", err)
	}

	e.Kind = gen.ContentKind(kind)
	e.Fallback = fallback != 0
	e.GenerationTime = time.Duration(genMs) * time.Millisecond
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.LastUsedAt = time.UnixMilli(used).UTC()

	if s.ttl > 0 && s.now().Sub(e.CreatedAt) > s.ttl {
		s.misses.Add(1)
		return gen.CacheEntry{}, false, nil
	}
	if err := json.Unmarshal(artifact, &e.Artifact); err != nil {
		return gen.CacheEntry{}, false, fmt.Errorf("gengateway/sqlite: decode artifact: %w", err)
	}

	s.hits.Add(1)
	return e, true, nil
}

func (s *Store) Store(ctx context.Context, e gen.CacheEntry) error {
	artifact, err := json.Marshal(e.Artifact)
	if err != nil {
		return fmt.Errorf("gengateway/sqlite: encode artifact: %w", err)
	}
	now := s.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastUsedAt.IsZero() {
		e.LastUsedAt = e.CreatedAt
	}
	if e.UsageCount == 0 {
		e.UsageCount = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO generation_cache
		 (fingerprint, kind, original_prompt, final_prompt, artifact, fallback, diagnostic, model,
		  generation_ms, created_at, last_used_at, usage_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Fingerprint, string(e.Kind), e.OriginalPrompt, e.FinalPrompt, artifact, boolInt(e.Fallback),
		e.Diagnostic, e.Model, e.GenerationTime.Milliseconds(),
		e.CreatedAt.UnixMilli(), e.LastUsedAt.UnixMilli(), e.UsageCount,
	)
	if err != nil {
		return fmt.Errorf("gengateway/sqlite: store: %w", err)
	}
	return nil
}

func (s *Store) TouchUsage(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE generation_cache SET usage_count = usage_count + 1, last_used_at = ? WHERE fingerprint = ?`,
		s.now().UnixMilli(), fingerprint,
	)
	if err != nil {
		return fmt.Errorf("gengateway/sqlite: touch: %w", err)
	}
	return nil
}

// Stats returns entry counts and the hit/miss counters of this process.
func (s *Store) Stats(ctx context.Context) (gen.CacheStats, error) {
	var st gen.CacheStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(fallback), 0) FROM generation_cache`,
	).Scan(&st.Entries, &st.Fallbacks)
	if err != nil {
		return gen.CacheStats{}, fmt.Errorf("gengateway/sqlite: stats: %w", err)
	}
	st.Hits = s.hits.Load()
	st.Misses = s.misses.Load()
	return st, nil
}

// Clear removes entries. With expiredOnly and no TTL nothing is removed.
func (s *Store) Clear(ctx context.Context, expiredOnly bool) (int64, error) {
	var (
		res sql.Result
		err error
	)
	switch {
	case !expiredOnly:
		res, err = s.db.ExecContext(ctx, `DELETE FROM generation_cache`)
	case s.ttl > 0:
		cutoff := s.now().Add(-s.ttl).UnixMilli()
		res, err = s.db.ExecContext(ctx, `DELETE FROM generation_cache WHERE created_at < ?`, cutoff)
	default:
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("gengateway/sqlite: clear: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
