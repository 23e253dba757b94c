// Package lock provides the short-lived exclusive locks taken by background
// workers before they mutate a transaction.
package lock

import (
	"context"
	"time"
)

// Locker acquires exclusive, expiring locks on single keys.
type Locker interface {
	// Acquire takes the lock on key for ttl. It returns an error wrapping
	// gar.ErrLockAcquisitionFailed when another holder owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Handle, error)
}

// Handle represents a held lock.
type Handle interface {
	// Key returns the locked key.
	Key() string

	// Extend pushes the expiry to now+ttl. It returns gar.ErrLockNotHeld
	// when the lock expired or was taken over.
	Extend(ctx context.Context, ttl time.Duration) error

	// Release frees the lock if it is still ours. Releasing twice is a no-op.
	Release(ctx context.Context) error
}
