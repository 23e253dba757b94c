package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gar"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryLocker_AcquireAndRelease(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	h, err := l.Acquire(ctx, "sweep:GAR-0115-ABC123", time.Minute)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if h.Key() != "sweep:GAR-0115-ABC123" {
		t.Errorf("unexpected key %s", h.Key())
	}

	if _, err := l.Acquire(ctx, "sweep:GAR-0115-ABC123", time.Minute); !errors.Is(err, gar.ErrLockAcquisitionFailed) {
		t.Fatalf("expected ErrLockAcquisitionFailed, got %v", err)
	}

	if err := h.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("second Release should be a no-op, got %v", err)
	}
	if l.Held("sweep:GAR-0115-ABC123") {
		t.Error("expected the lock to be free")
	}

	if _, err := l.Acquire(ctx, "sweep:GAR-0115-ABC123", time.Minute); err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}
}

func TestMemoryLocker_Expiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
	l := NewMemoryLocker(WithClock(clock.Now))
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k", 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	clock.Advance(31 * time.Second)

	fresh, err := l.Acquire(ctx, "k", 30*time.Second)
	if err != nil {
		t.Fatalf("expected expired lock to be taken over, got %v", err)
	}

	if err := stale.Extend(ctx, time.Minute); !errors.Is(err, gar.ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld for stale handle, got %v", err)
	}
	// Releasing the stale handle must not free the new holder.
	stale.Release(ctx)
	if !l.Held("k") {
		t.Error("stale release freed another holder's lock")
	}

	if err := fresh.Extend(ctx, time.Minute); err != nil {
		t.Errorf("Extend failed: %v", err)
	}
	clock.Advance(45 * time.Second)
	if !l.Held("k") {
		t.Error("expected the extended lock to still be held")
	}
}

func TestMemoryLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewMemoryLocker().Acquire(ctx, "k", time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryLocker_ConcurrentAcquireSingleWinner(t *testing.T) {
	l := NewMemoryLocker()
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), "k", time.Minute); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", wins.Load())
	}
}
