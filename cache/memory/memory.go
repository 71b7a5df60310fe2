// Package memory provides an in-process CacheStore.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	gen "github.com/ineyio/gengateway"
)

// Store is an in-memory CacheStore with an optional TTL.
type Store struct {
	mu      sync.RWMutex
	entries map[string]gen.CacheEntry
	ttl     time.Duration
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

var (
	_ gen.CacheStore = (*Store)(nil)
	_ gen.CacheAdmin = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTTL expires entries ttl after creation. Zero keeps entries forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock sets the time source used for TTL and usage stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]gen.CacheEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Lookup(_ context.Context, fingerprint string) (gen.CacheEntry, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[fingerprint]
	s.mu.RUnlock()

	if !ok || s.expired(e) {
		s.misses.Add(1)
		return gen.CacheEntry{}, false, nil
	}
	s.hits.Add(1)
	return e, true, nil
}

func (s *Store) Store(_ context.Context, entry gen.CacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if entry.LastUsedAt.IsZero() {
		entry.LastUsedAt = entry.CreatedAt
	}
	if entry.UsageCount == 0 {
		entry.UsageCount = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Fingerprint] = entry
	return nil
}

func (s *Store) TouchUsage(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fingerprint]
	if !ok {
		return nil
	}
	e.UsageCount++
	e.LastUsedAt = s.now()
	s.entries[fingerprint] = e
	return nil
}

func (s *Store) Stats(context.Context) (gen.CacheStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := gen.CacheStats{
		Entries: int64(len(s.entries)),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
	}
	for _, e := range s.entries {
		if e.Fallback {
			st.Fallbacks++
		}
	}
	return st, nil
}

func (s *Store) Clear(_ context.Context, expiredOnly bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for fp, e := range s.entries {
		if !expiredOnly || s.expired(e) {
			delete(s.entries, fp)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, including expired ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) expired(e gen.CacheEntry) bool {
	return s.ttl > 0 && s.now().Sub(e.CreatedAt) > s.ttl
}
