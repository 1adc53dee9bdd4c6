package worker

import (
	"sync"
	"time"

	"github.com/opencommander/commander/internal/clock"
)

// DefaultBreakerThreshold is the number of consecutive backend failures
// before claiming pauses.
const DefaultBreakerThreshold = 5

// DefaultBreakerCooldown is how long an open breaker stays open.
const DefaultBreakerCooldown = 30 * time.Second

// CircuitBreaker pauses job claiming after consecutive queue backend
// failures. Unlike a manual-reset breaker it closes again on its own once
// the cooldown has passed; the next failure after that reopens it.
type CircuitBreaker struct {
	mu                  sync.Mutex
	clock               clock.Clock
	threshold           int
	cooldown            time.Duration
	consecutiveFailures int
	openUntil           time.Time
	lastFailureAt       time.Time
}

// NewCircuitBreaker creates a breaker. Non-positive values fall back to the
// defaults.
func NewCircuitBreaker(threshold int, cooldown time.Duration, clk clock.Clock) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &CircuitBreaker{clock: clk, threshold: threshold, cooldown: cooldown}
}

// RecordSuccess resets the failure count and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.openUntil = time.Time{}
}

// RecordFailure counts a failure and reports whether it opened the breaker.
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock.Now()
	cb.consecutiveFailures++
	cb.lastFailureAt = now

	if cb.consecutiveFailures >= cb.threshold && !now.Before(cb.openUntil) {
		cb.openUntil = now.Add(cb.cooldown)
		return true
	}
	return false
}

// IsOpen reports whether claiming is paused.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.clock.Now().Before(cb.openUntil)
}

// ConsecutiveFailures returns the current failure streak.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

// LastFailureAt returns when the last failure was recorded.
func (cb *CircuitBreaker) LastFailureAt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastFailureAt
}
