package gengateway

import (
	"sync"
	"time"
)

const (
	defaultMaxFailures    = 3
	defaultFailureTimeout = 15 * time.Minute
)

// FailureTracker counts recent provider failures per prompt key and blocks a
// key once it reaches the threshold within the timeout window.
type FailureTracker struct {
	mu          sync.Mutex
	clock       Clock
	maxFailures int
	timeout     time.Duration
	records     map[string]*failureRecord
}

type failureRecord struct {
	count       int
	lastFailure time.Time
}

// NewFailureTracker creates a FailureTracker. Non-positive arguments use the
// defaults (3 failures, 15 minutes).
func NewFailureTracker(clock Clock, maxFailures int, timeout time.Duration) *FailureTracker {
	if clock == nil {
		clock = systemClock{}
	}
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	if timeout <= 0 {
		timeout = defaultFailureTimeout
	}
	return &FailureTracker{
		clock:       clock,
		maxFailures: maxFailures,
		timeout:     timeout,
		records:     make(map[string]*failureRecord),
	}
}

// IsBlocked reports whether key has reached the failure threshold inside the
// window. Records whose window has elapsed are dropped.
func (f *FailureTracker) IsBlocked(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.records[key]
	if !ok {
		return false
	}
	if f.clock.Now().Sub(rec.lastFailure) >= f.timeout {
		delete(f.records, key)
		return false
	}
	return rec.count >= f.maxFailures
}

// RecordFailure registers one failure for key. A failure after the window
// has elapsed starts a fresh count.
func (f *FailureTracker) RecordFailure(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	rec, ok := f.records[key]
	if !ok || now.Sub(rec.lastFailure) >= f.timeout {
		f.records[key] = &failureRecord{count: 1, lastFailure: now}
		return
	}
	rec.count++
	rec.lastFailure = now
}

// Clear forgets key after a successful generation.
func (f *FailureTracker) Clear(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, key)
}

// Count returns the live failure count for key.
func (f *FailureTracker) Count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key]
	if !ok || f.clock.Now().Sub(rec.lastFailure) >= f.timeout {
		return 0
	}
	return rec.count
}

// Len returns the number of tracked keys, including ones not yet expired lazily.
func (f *FailureTracker) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}
