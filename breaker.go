package gengateway

import (
	"sync"
	"time"
)

const defaultQuotaCooldown = time.Hour

// CircuitBreaker is the process-wide quota breaker. While open, no attempt
// may contact the provider.
type CircuitBreaker struct {
	mu        sync.Mutex
	clock     Clock
	open      bool
	openUntil time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(clock Clock) *CircuitBreaker {
	if clock == nil {
		clock = systemClock{}
	}
	return &CircuitBreaker{clock: clock}
}

// IsOpen reports whether the breaker is open, closing it once the cooldown
// has passed.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return false
	}
	if !b.clock.Now().Before(b.openUntil) {
		b.open = false
		b.openUntil = time.Time{}
		return false
	}
	return true
}

// Trip opens the breaker for cooldown. An already open breaker keeps the
// later of the two deadlines.
func (b *CircuitBreaker) Trip(cooldown time.Duration) {
	if cooldown <= 0 {
		cooldown = defaultQuotaCooldown
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	until := b.clock.Now().Add(cooldown)
	if b.open && b.openUntil.After(until) {
		return
	}
	b.open = true
	b.openUntil = until
}

// OpenUntil returns the cooldown deadline, or the zero time when closed.
func (b *CircuitBreaker) OpenUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return time.Time{}
	}
	return b.openUntil
}
