package limiter

import (
	"sync"
	"time"
)

// CircuitBreaker tracks consecutive downstream failures per client key.
// Once a key reaches the failure threshold, requests from it are rejected
// until the recovery timeout has elapsed since the last failure. A success
// resets the count to zero.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	recovery  time.Duration
	states    map[string]*breakerState
	now       func() time.Time
}

type breakerState struct {
	failures    int
	lastFailure time.Time
}

// NewCircuitBreaker creates a breaker that opens after threshold consecutive
// failures and stays open for recovery.
func NewCircuitBreaker(threshold int, recovery time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		recovery:  recovery,
		states:    make(map[string]*breakerState),
		now:       time.Now,
	}
}

// Allow reports whether a request from key may proceed. When the circuit is
// open it also returns how long the caller should wait before retrying.
func (b *CircuitBreaker) Allow(key string) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[key]
	if !ok || st.failures < b.threshold {
		return true, 0
	}
	elapsed := b.now().Sub(st.lastFailure)
	if elapsed < b.recovery {
		return false, b.recovery - elapsed
	}
	return true, 0
}

// Failure records one downstream failure for key.
func (b *CircuitBreaker) Failure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[key]
	if !ok {
		st = &breakerState{}
		b.states[key] = st
	}
	st.failures++
	st.lastFailure = b.now()
}

// Success resets the failure count for key.
func (b *CircuitBreaker) Success(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st, ok := b.states[key]; ok {
		st.failures = 0
	}
}
