// Package memory provides an in-process circuit breaker.
package memory

import (
	"context"
	"sync"
	"time"

	"gar"
	"gar/circuit"
)

// MemoryBreaker is an in-memory implementation of the Breaker interface
type MemoryBreaker struct {
	mu            sync.RWMutex
	breakers      map[string]*memoryCircuitBreaker
	defaultConfig circuit.BreakerConfig
	clock         func() time.Time
}

// Option configures a MemoryBreaker.
type Option func(*MemoryBreaker)

// WithClock overrides the time source used for the open timeout.
func WithClock(clock func() time.Time) Option {
	return func(m *MemoryBreaker) {
		m.clock = clock
	}
}

// NewMemoryBreaker creates a new MemoryBreaker with default configuration
func NewMemoryBreaker(opts ...Option) *MemoryBreaker {
	return NewMemoryBreakerWithConfig(circuit.DefaultBreakerConfig(), opts...)
}

// NewMemoryBreakerWithConfig creates a new MemoryBreaker with custom default configuration
func NewMemoryBreakerWithConfig(config circuit.BreakerConfig, opts ...Option) *MemoryBreaker {
	m := &MemoryBreaker{
		breakers:      make(map[string]*memoryCircuitBreaker),
		defaultConfig: config,
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the circuit breaker for the specified service with default config
func (m *MemoryBreaker) Get(service string) circuit.CircuitBreaker {
	return m.GetWithConfig(service, m.defaultConfig)
}

// GetWithConfig returns the circuit breaker for service. The config only
// applies the first time a service is seen.
func (m *MemoryBreaker) GetWithConfig(service string, config circuit.BreakerConfig) circuit.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, exists := m.breakers[service]; exists {
		return cb
	}

	cb := &memoryCircuitBreaker{
		service: service,
		config:  config,
		state:   circuit.StateClosed,
		clock:   m.clock,
	}
	m.breakers[service] = cb
	return cb
}

type memoryCircuitBreaker struct {
	mu      sync.Mutex
	service string
	config  circuit.BreakerConfig
	state   circuit.State
	counts  circuit.BreakerCounts
	clock   func() time.Time

	openedAt time.Time
	halfOpen int // trial requests admitted since entering half-open
}

type transition struct {
	from, to circuit.State
}

// Execute runs fn with circuit breaker protection. A cancelled context is
// returned as is and does not count as a failure.
func (cb *memoryCircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t, err := cb.beforeRequest()
	cb.notify(t)
	if err != nil {
		return err
	}

	err = fn()
	cb.notify(cb.afterRequest(err == nil))
	return err
}

func (cb *memoryCircuitBreaker) beforeRequest() (*transition, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var t *transition
	switch cb.state {
	case circuit.StateOpen:
		if cb.clock().Sub(cb.openedAt) < cb.config.Timeout {
			return nil, gar.ErrCircuitOpen
		}
		t = cb.setState(circuit.StateHalfOpen)
		fallthrough
	case circuit.StateHalfOpen:
		if cb.halfOpen >= cb.config.HalfOpenMaxReqs {
			return t, gar.ErrCircuitOpen
		}
		cb.halfOpen++
	}
	cb.counts.Requests++
	return t, nil
}

func (cb *memoryCircuitBreaker) afterRequest(success bool) *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == circuit.StateHalfOpen && cb.counts.ConsecutiveSuccesses >= int64(cb.config.HalfOpenMaxReqs) {
			return cb.setState(circuit.StateClosed)
		}
		return nil
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	switch cb.state {
	case circuit.StateClosed:
		if cb.counts.ConsecutiveFailures >= int64(cb.config.Threshold) {
			return cb.setState(circuit.StateOpen)
		}
	case circuit.StateHalfOpen:
		return cb.setState(circuit.StateOpen)
	}
	return nil
}

// setState must be called with mu held.
func (cb *memoryCircuitBreaker) setState(to circuit.State) *transition {
	from := cb.state
	cb.state = to
	cb.halfOpen = 0
	if to == circuit.StateOpen {
		cb.openedAt = cb.clock()
	}
	if to == circuit.StateHalfOpen {
		cb.counts.ConsecutiveSuccesses = 0
	}
	return &transition{from: from, to: to}
}

func (cb *memoryCircuitBreaker) notify(t *transition) {
	if t != nil && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.service, t.from, t.to)
	}
}

// State reports half-open once the open timeout elapsed, even before the
// next request performs the transition.
func (cb *memoryCircuitBreaker) State() circuit.State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == circuit.StateOpen && cb.clock().Sub(cb.openedAt) >= cb.config.Timeout {
		return circuit.StateHalfOpen
	}
	return cb.state
}

// Reset manually resets the circuit breaker to closed state
func (cb *memoryCircuitBreaker) Reset() {
	cb.mu.Lock()
	var t *transition
	if cb.state != circuit.StateClosed {
		t = cb.setState(circuit.StateClosed)
	}
	cb.counts = circuit.BreakerCounts{}
	cb.mu.Unlock()
	cb.notify(t)
}

// Counts returns the current statistics
func (cb *memoryCircuitBreaker) Counts() circuit.BreakerCounts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}
