package recovery

import (
	"time"
)

// CircuitState is the breaker's gate position.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// Breaker is a failure-counting gate for one (agent, action-class) pair.
// It is mutated only by its owning agent's recovery calls, so it needs no
// locking.
type Breaker struct {
	threshold   int
	resetTime   time.Duration
	failures    int
	lastFailure time.Time
	state       CircuitState
	now         func() time.Time
}

// NewBreaker builds a closed breaker that opens after threshold consecutive
// failures and probes again (HALF_OPEN) once resetTime elapses.
func NewBreaker(threshold int, resetTime time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		resetTime: resetTime,
		state:     CircuitClosed,
		now:       time.Now,
	}
}

// IsOpen reports whether attempts should be refused. When the reset time has
// elapsed since the last failure, the breaker moves to HALF_OPEN and lets
// exactly one attempt through.
func (b *Breaker) IsOpen() bool {
	if b.state == CircuitOpen && b.now().Sub(b.lastFailure) >= b.resetTime {
		b.state = CircuitHalfOpen
	}
	return b.state == CircuitOpen
}

// RecordFailure counts one failure. A failure while HALF_OPEN reopens the
// breaker immediately.
func (b *Breaker) RecordFailure() {
	b.failures++
	b.lastFailure = b.now()
	if b.state == CircuitHalfOpen || b.failures >= b.threshold {
		b.state = CircuitOpen
	}
}

// RecordSuccess resets the consecutive-failure count; a success while
// HALF_OPEN closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.failures = 0
	if b.state == CircuitHalfOpen {
		b.state = CircuitClosed
	}
}

// State returns the current gate position without side effects.
func (b *Breaker) State() CircuitState { return b.state }

// Failures returns the consecutive-failure count.
func (b *Breaker) Failures() int { return b.failures }
