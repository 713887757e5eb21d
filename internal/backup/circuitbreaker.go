// Package backup implements the BackendPool of peer connections used for
// relay (spec §3, §4.5): a per-peer circuit breaker gates whether a peer is
// even considered as a relay target, and the pool tracks each peer's
// last-reported occupancy for ModelExecutor.ShouldRelay to consult.
//
// Circuit breaker states:
//   - CLOSED   (normal)   → errors exceed threshold → OPEN
//   - OPEN     (blocking) → after timeout → HALF_OPEN
//   - HALF_OPEN (probing) → probe succeeds → CLOSED, probe fails → OPEN
package backup

import (
	"fmt"
	"sync"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
)

// CBState is a circuit breaker state.
type CBState int

const (
	CBClosed   CBState = iota // normal operation, requests pass through
	CBOpen                    // tripped, all requests rejected immediately
	CBHalfOpen                // recovery probe, requests pass until it closes or reopens
)

func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "CLOSED"
	case CBOpen:
		return "OPEN"
	case CBHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // failures to trip (default 5)
	ResetTimeout     time.Duration // time in OPEN before trying HALF_OPEN (default 30s)
	HalfOpenMax      int           // successful probes in HALF_OPEN needed to close (default 3)
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMax:      3,
	}
}

// CircuitBreaker gates whether a peer backend is considered for relay.
// Thread-safe for concurrent use.
type CircuitBreaker struct {
	mu          sync.Mutex
	name        string
	config      CircuitBreakerConfig
	state       CBState
	failures    int
	successes   int // successes in HALF_OPEN state
	lastFailure time.Time
	trippedAt   time.Time
	totalTrips  int
	now         func() time.Time // injectable clock for testing
}

// NewCircuitBreaker creates a circuit breaker for a named peer.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: cfg,
		state:  CBClosed,
		now:    time.Now,
	}
}

// Allow reports whether a relay attempt should be permitted.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CBOpen:
		if cb.now().Sub(cb.trippedAt) >= cb.config.ResetTimeout {
			cb.state = CBHalfOpen
			cb.successes = 0
			return nil
		}
		return fmt.Errorf("%s: %w", cb.name, domain.ErrCircuitOpen)
	default:
		return nil
	}
}

// RecordSuccess records a successful relay.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CBHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.HalfOpenMax {
			cb.state = CBClosed
			cb.failures = 0
			cb.successes = 0
		}
	case CBClosed:
		if cb.failures > 0 {
			cb.failures--
		}
	}
}

// RecordFailure records a failed relay. May trip the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()

	switch cb.state {
	case CBClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = CBOpen
			cb.trippedAt = cb.now()
			cb.totalTrips++
		}
	case CBHalfOpen:
		cb.state = CBOpen
		cb.trippedAt = cb.now()
		cb.totalTrips++
	}
}

// State returns the current state, auto-transitioning OPEN to HALF_OPEN
// once the reset timeout has elapsed.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CBOpen && cb.now().Sub(cb.trippedAt) >= cb.config.ResetTimeout {
		cb.state = CBHalfOpen
		cb.successes = 0
	}
	return cb.state
}

// Reset forces the circuit breaker back to CLOSED.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CBClosed
	cb.failures = 0
	cb.successes = 0
}
