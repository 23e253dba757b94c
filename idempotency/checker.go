// Package idempotency remembers which side effects already happened, so
// that redelivered work is not repeated.
package idempotency

import (
	"context"
	"time"
)

// Checker records executed operations by key.
type Checker interface {
	// Check reports whether key was marked and not yet expired, along with
	// the stored result.
	Check(ctx context.Context, key string) (exists bool, result []byte, err error)

	// Mark records key with result for ttl. Marking an existing key
	// overwrites it.
	Mark(ctx context.Context, key string, result []byte, ttl time.Duration) error
}
