package provider

import (
	"sync"
	"time"
)

type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

var circuitStateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half_open",
}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// CircuitBreaker gates calls to one provider. After threshold consecutive failures it opens
// for cooldown, then lets a single probe through; the probe's outcome closes or reopens it.
type CircuitBreaker struct {
	mu sync.Mutex

	state       CircuitState
	streak      int
	probeOut    bool
	lastFailure time.Time
	retryAt     time.Time

	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: max(threshold, 1),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// advance promotes an open breaker whose cooldown has passed. Caller holds mu.
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && !cb.now().Before(cb.retryAt) {
		cb.state = StateHalfOpen
		cb.probeOut = false
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

// Allow reports whether a call may proceed, claiming the probe slot when half-open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()

	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probeOut {
			return false
		}
		cb.probeOut = true
		return true
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state, cb.streak, cb.probeOut = StateClosed, 0, false
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.streak++
	cb.lastFailure = cb.now()
	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.streak >= cb.threshold) {
		cb.state = StateOpen
		cb.retryAt = cb.lastFailure.Add(cb.cooldown)
		cb.probeOut = false
	}
}

// ReleaseProbe frees the half-open slot when a probe ended without a verdict,
// for example because the caller went away.
func (cb *CircuitBreaker) ReleaseProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probeOut = false
}

// status returns the state, failure streak and last failure time under one lock.
func (cb *CircuitBreaker) status() (CircuitState, int, time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state, cb.streak, cb.lastFailure
}
