// Package memory provides an in-process idempotency.Checker.
package memory

import (
	"context"
	"sync"
	"time"

	"gar/idempotency"
)

var _ idempotency.Checker = (*MemoryChecker)(nil)

type record struct {
	result    []byte
	expiresAt time.Time
}

// MemoryChecker keeps idempotency records in a map. Expired records are
// dropped lazily on Check and during Mark.
type MemoryChecker struct {
	mu      sync.Mutex
	records map[string]record
	clock   func() time.Time
}

// Option configures a MemoryChecker.
type Option func(*MemoryChecker)

// WithClock overrides the time source used for expiry.
func WithClock(clock func() time.Time) Option {
	return func(c *MemoryChecker) {
		c.clock = clock
	}
}

// New creates an empty MemoryChecker.
func New(opts ...Option) *MemoryChecker {
	c := &MemoryChecker{
		records: make(map[string]record),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryChecker) Check(ctx context.Context, key string) (bool, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.records[key]
	if !ok {
		return false, nil, nil
	}
	if !c.clock().Before(r.expiresAt) {
		delete(c.records, key)
		return false, nil, nil
	}
	return true, append([]byte(nil), r.result...), nil
}

func (c *MemoryChecker) Mark(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	for k, r := range c.records {
		if !now.Before(r.expiresAt) {
			delete(c.records, k)
		}
	}
	c.records[key] = record{
		result:    append([]byte(nil), result...),
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Len returns the number of records, expired ones included.
func (c *MemoryChecker) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}
