package gengateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxConcurrent = 1
	defaultMinInterval   = 1500 * time.Millisecond
)

// AdmissionScheduler bounds concurrent provider attempts and spaces their
// start times. Waiters are admitted in arrival order; nothing is rejected.
type AdmissionScheduler struct {
	sem      *semaphore.Weighted
	interval time.Duration
	clock    Clock

	mu        sync.Mutex
	lastStart time.Time
}

// SchedulerOption configures AdmissionScheduler.
type SchedulerOption func(*AdmissionScheduler)

// WithAdmissionClock sets the clock used to space attempt starts.
func WithAdmissionClock(c Clock) SchedulerOption {
	return func(s *AdmissionScheduler) { s.clock = c }
}

// NewAdmissionScheduler creates a scheduler. maxConcurrent below 1 becomes 1;
// a negative interval disables spacing.
func NewAdmissionScheduler(maxConcurrent int, minInterval time.Duration, opts ...SchedulerOption) *AdmissionScheduler {
	if maxConcurrent < 1 {
		maxConcurrent = defaultMaxConcurrent
	}
	if minInterval < 0 {
		minInterval = 0
	}
	s := &AdmissionScheduler{
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		interval: minInterval,
		clock:    systemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit waits for a slot and the start gate, then runs fn. A cancelled
// context while waiting returns the context error without running fn.
func (s *AdmissionScheduler) Submit(ctx context.Context, fn func(context.Context) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("gengateway: admission wait: %w", err)
	}
	defer s.sem.Release(1)

	if wait := s.reserveStart(); wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("gengateway: admission wait: %w", ctx.Err())
		}
	}

	return fn(ctx)
}

// reserveStart claims the next start time and returns how long to wait for it.
func (s *AdmissionScheduler) reserveStart() time.Duration {
	if s.interval == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	start := now
	if next := s.lastStart.Add(s.interval); next.After(now) {
		start = next
	}
	s.lastStart = start
	return start.Sub(now)
}
