// Package circuit defines the circuit breaker that guards outbound
// notification delivery.
package circuit

import (
	"context"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed lets every request through
	StateClosed State = iota
	// StateOpen rejects requests until the timeout elapses
	StateOpen
	// StateHalfOpen lets a limited number of trial requests through
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// StateChangeFunc is called after a breaker changes state.
// It runs outside the breaker lock.
type StateChangeFunc func(service string, from, to State)

// BreakerConfig holds the configuration for a circuit breaker
type BreakerConfig struct {
	// Threshold is the number of consecutive failures before opening the circuit
	Threshold int
	// Timeout is the duration to wait before transitioning from OPEN to HALF_OPEN
	Timeout time.Duration
	// HalfOpenMaxReqs is the number of trial requests allowed, and the number of
	// consecutive successes needed to close again
	HalfOpenMaxReqs int
	// OnStateChange is optional
	OnStateChange StateChangeFunc
}

// DefaultBreakerConfig returns the default circuit breaker configuration
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:       5,
		Timeout:         30 * time.Second,
		HalfOpenMaxReqs: 3,
	}
}

// BreakerCounts holds the statistics for a circuit breaker
type BreakerCounts struct {
	Requests             int64
	TotalSuccesses       int64
	TotalFailures        int64
	ConsecutiveSuccesses int64
	ConsecutiveFailures  int64
}

// Breaker hands out one circuit breaker per downstream service
type Breaker interface {
	// Get returns the circuit breaker for the specified service with default config
	Get(service string) CircuitBreaker
	// GetWithConfig returns the circuit breaker for the specified service with custom config
	GetWithConfig(service string, config BreakerConfig) CircuitBreaker
}

// CircuitBreaker protects a single downstream service
type CircuitBreaker interface {
	// Execute runs fn unless the circuit is open
	Execute(ctx context.Context, fn func() error) error
	// State returns the current state of the circuit breaker
	State() State
	// Reset manually resets the circuit breaker to closed state
	Reset()
	// Counts returns the current statistics
	Counts() BreakerCounts
}
