// Package memory provides an in-process Locker for single-instance
// deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gar"
	"gar/lock"
)

var _ lock.Locker = (*MemoryLocker)(nil)

type entry struct {
	token     string
	expiresAt time.Time
}

// MemoryLocker is a mutex-guarded map of expiring locks.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]entry
	clock func() time.Time
}

// Option configures a MemoryLocker.
type Option func(*MemoryLocker)

// WithClock overrides the time source used for expiry.
func WithClock(clock func() time.Time) Option {
	return func(l *MemoryLocker) {
		l.clock = clock
	}
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker(opts ...Option) *MemoryLocker {
	l := &MemoryLocker{
		locks: make(map[string]entry),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire takes key unless an unexpired lock exists.
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if e, ok := l.locks[key]; ok && now.Before(e.expiresAt) {
		return nil, fmt.Errorf("%w: %s is held", gar.ErrLockAcquisitionFailed, key)
	}

	token := uuid.NewString()
	l.locks[key] = entry{token: token, expiresAt: now.Add(ttl)}
	return &memoryHandle{locker: l, key: key, token: token}, nil
}

// Held reports whether key is currently locked.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[key]
	return ok && l.clock().Before(e.expiresAt)
}

type memoryHandle struct {
	locker   *MemoryLocker
	key      string
	token    string
	released bool
}

func (h *memoryHandle) Key() string {
	return h.key
}

func (h *memoryHandle) Extend(ctx context.Context, ttl time.Duration) error {
	l := h.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	e, ok := l.locks[h.key]
	if h.released || !ok || e.token != h.token || !now.Before(e.expiresAt) {
		return gar.ErrLockNotHeld
	}
	l.locks[h.key] = entry{token: h.token, expiresAt: now.Add(ttl)}
	return nil
}

func (h *memoryHandle) Release(ctx context.Context) error {
	l := h.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true

	if e, ok := l.locks[h.key]; ok && e.token == h.token {
		delete(l.locks, h.key)
	}
	return nil
}
