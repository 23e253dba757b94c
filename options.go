package gar

import (
	"time"

	"gar/circuit"
)

// Config holds the configuration for the guaranteed-transaction engine.
type Config struct {
	// Business rules
	VerificationWindow time.Duration // Claim window after delivery, default 48h

	// Creation
	ReferenceAttempts int // Attempts to allocate a unique reference, default 5

	// Concurrency
	ConflictRetries int // Reload-and-reapply attempts on version conflict, default 3

	// Sweeper configuration
	SweepInterval  time.Duration // Interval between reconciliation sweeps, default 5m
	SweepBatchSize int           // Maximum candidates per sweep, default 500
	SweepLockTTL   time.Duration // Per-transaction sweep lock TTL, default 30s

	// Notification configuration
	NotifyTimeout  time.Duration // Single notification send timeout, default 10s
	NotifyDedupTTL time.Duration // Delivered-notification record TTL, default 72h

	// Circuit breaker configuration (guards the notifier)
	CircuitThreshold    int           // Consecutive failures before opening, default 5
	CircuitTimeout      time.Duration // Open-state duration, default 30s
	CircuitHalfOpenReqs int           // Requests allowed while half-open, default 3
}

// DefaultConfig returns the default configuration for the engine.
func DefaultConfig() Config {
	return Config{
		VerificationWindow:  48 * time.Hour,
		ReferenceAttempts:   5,
		ConflictRetries:     3,
		SweepInterval:       5 * time.Minute,
		SweepBatchSize:      500,
		SweepLockTTL:        30 * time.Second,
		NotifyTimeout:       10 * time.Second,
		NotifyDedupTTL:      72 * time.Hour,
		CircuitThreshold:    5,
		CircuitTimeout:      30 * time.Second,
		CircuitHalfOpenReqs: 3,
	}
}

// Option is a function that modifies the Config.
type Option func(*Config)

// WithVerificationWindow sets the claim window after delivery.
func WithVerificationWindow(d time.Duration) Option {
	return func(c *Config) {
		c.VerificationWindow = d
	}
}

// WithReferenceAttempts sets the number of reference allocation attempts.
func WithReferenceAttempts(n int) Option {
	return func(c *Config) {
		c.ReferenceAttempts = n
	}
}

// WithConflictRetries sets the number of retries on version conflict.
func WithConflictRetries(n int) Option {
	return func(c *Config) {
		c.ConflictRetries = n
	}
}

// WithSweepInterval sets the reconciliation sweep interval.
func WithSweepInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.SweepInterval = interval
	}
}

// WithSweepBatchSize sets the maximum number of candidates per sweep.
func WithSweepBatchSize(n int) Option {
	return func(c *Config) {
		c.SweepBatchSize = n
	}
}

// WithSweepLockTTL sets the per-transaction sweep lock TTL.
func WithSweepLockTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.SweepLockTTL = ttl
	}
}

// WithNotifyTimeout sets the notification send timeout.
func WithNotifyTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.NotifyTimeout = timeout
	}
}

// WithNotifyDedupTTL sets how long delivered notifications are remembered.
func WithNotifyDedupTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.NotifyDedupTTL = ttl
	}
}

// WithCircuitThreshold sets the circuit breaker failure threshold.
func WithCircuitThreshold(threshold int) Option {
	return func(c *Config) {
		c.CircuitThreshold = threshold
	}
}

// WithCircuitTimeout sets the circuit breaker recovery timeout.
func WithCircuitTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.CircuitTimeout = timeout
	}
}

// WithCircuitHalfOpenReqs sets the maximum requests in half-open state.
func WithCircuitHalfOpenReqs(reqs int) Option {
	return func(c *Config) {
		c.CircuitHalfOpenReqs = reqs
	}
}

// WithConfig applies a complete Config, overriding all values.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// ApplyOptions applies the given options to a default config and returns the result.
func ApplyOptions(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// withDefaults replaces unset or non-positive fields with their defaults.
// A zero ConflictRetries is kept: it disables retries.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.VerificationWindow <= 0 {
		c.VerificationWindow = d.VerificationWindow
	}
	if c.ReferenceAttempts <= 0 {
		c.ReferenceAttempts = d.ReferenceAttempts
	}
	if c.ConflictRetries < 0 {
		c.ConflictRetries = d.ConflictRetries
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = d.SweepBatchSize
	}
	if c.SweepLockTTL <= 0 {
		c.SweepLockTTL = d.SweepLockTTL
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = d.NotifyTimeout
	}
	if c.NotifyDedupTTL <= 0 {
		c.NotifyDedupTTL = d.NotifyDedupTTL
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = d.CircuitThreshold
	}
	if c.CircuitTimeout <= 0 {
		c.CircuitTimeout = d.CircuitTimeout
	}
	if c.CircuitHalfOpenReqs <= 0 {
		c.CircuitHalfOpenReqs = d.CircuitHalfOpenReqs
	}
	return c
}

// ToBreakerConfig converts the circuit breaker settings to a BreakerConfig.
func (c *Config) ToBreakerConfig() circuit.BreakerConfig {
	return circuit.BreakerConfig{
		Threshold:       c.CircuitThreshold,
		Timeout:         c.CircuitTimeout,
		HalfOpenMaxReqs: c.CircuitHalfOpenReqs,
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.VerificationWindow <= 0 {
		return ErrInvalidConfig
	}
	if c.ReferenceAttempts <= 0 {
		return ErrInvalidConfig
	}
	if c.ConflictRetries < 0 {
		return ErrInvalidConfig
	}
	if c.SweepInterval <= 0 {
		return ErrInvalidConfig
	}
	if c.SweepBatchSize <= 0 {
		return ErrInvalidConfig
	}
	if c.SweepLockTTL <= 0 {
		return ErrInvalidConfig
	}
	if c.NotifyTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.NotifyDedupTTL <= 0 {
		return ErrInvalidConfig
	}
	if c.CircuitThreshold <= 0 {
		return ErrInvalidConfig
	}
	if c.CircuitTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.CircuitHalfOpenReqs <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
