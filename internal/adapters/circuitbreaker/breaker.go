// Package circuitbreaker fails calls to an unhealthy backend fast. The
// speech, LLM, embedding and speaker clients each wrap their HTTP calls in
// one breaker so a dead service costs an error, not a worker stalled on a
// timeout.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the call while the breaker is
// cooling down.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls fail immediately
	StateHalfOpen              // probing whether the backend recovered
)

// trialSuccesses is how many consecutive half-open successes close the
// breaker again.
const trialSuccesses = 3

type CircuitBreaker struct {
	mu       sync.Mutex
	state    State
	failures int
	trials   int
	openedAt time.Time

	maxFailures int
	cooldown    time.Duration
}

// New builds a closed breaker that opens after maxFailures consecutive
// failures and starts probing again after the cooldown.
func New(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:       StateClosed,
		maxFailures: maxFailures,
		cooldown:    cooldown,
	}
}

// Execute runs fn unless the breaker is open, feeding the outcome back into
// the breaker state. The call's own error passes through untouched.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) <= cb.cooldown {
			return false
		}
		cb.state = StateHalfOpen
		cb.trials = 0
	}
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.openedAt = time.Now()
		if cb.failures >= cb.maxFailures || cb.state == StateHalfOpen {
			cb.state = StateOpen
		}
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.trials++
		if cb.trials >= trialSuccesses {
			cb.state = StateClosed
			cb.failures = 0
		}
	default:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
