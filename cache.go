package gengateway

import (
	"context"
	"time"
)

// CacheStore persists generation results keyed by request fingerprint.
// Entries are never deleted by the gateway.
type CacheStore interface {
	// Lookup returns the entry for fingerprint. ok is false on a miss.
	Lookup(ctx context.Context, fingerprint string) (entry CacheEntry, ok bool, err error)

	// Store inserts or replaces the entry for entry.Fingerprint.
	Store(ctx context.Context, entry CacheEntry) error

	// TouchUsage increments the usage count and stamps LastUsedAt.
	TouchUsage(ctx context.Context, fingerprint string) error
}

// CacheEntry is one cached generation result.
type CacheEntry struct {
	Fingerprint    string        `json:"fingerprint"`
	Kind           ContentKind   `json:"kind"`
	OriginalPrompt string        `json:"original_prompt"`
	FinalPrompt    string        `json:"final_prompt"`
	Artifact       Artifact      `json:"artifact"`
	Fallback       bool          `json:"fallback"`
	Diagnostic     string        `json:"diagnostic,omitempty"`
	Model          string        `json:"model,omitempty"`
	GenerationTime time.Duration `json:"generation_time"`
	CreatedAt      time.Time     `json:"created_at"`
	LastUsedAt     time.Time     `json:"last_used_at"`
	UsageCount     int64         `json:"usage_count"`
}

// noopCacheStore never hits. Used when no store is configured.
type noopCacheStore struct{}

func (noopCacheStore) Lookup(context.Context, string) (CacheEntry, bool, error) {
	return CacheEntry{}, false, nil
}
func (noopCacheStore) Store(context.Context, CacheEntry) error  { return nil }
func (noopCacheStore) TouchUsage(context.Context, string) error { return nil }

// CacheStats summarizes a persistent cache.
type CacheStats struct {
	Entries   int64 `json:"entries"`
	Fallbacks int64 `json:"fallbacks"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
}

// CacheAdmin is implemented by stores that support inspection and cleanup.
type CacheAdmin interface {
	Stats(ctx context.Context) (CacheStats, error)

	// Clear deletes entries and returns how many were removed. With
	// expiredOnly set, only entries past the store TTL are removed.
	Clear(ctx context.Context, expiredOnly bool) (int64, error)
}
