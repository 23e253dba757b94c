package notify

import (
	"context"
	"errors"

	"gar"
)

// ErrOutboxFull indicates the outbox buffer is full. The notification stays
// pending on the timeline and is picked up by RetryPending.
var ErrOutboxFull = errors.New("notification outbox full")

var _ gar.Outbox = (*MemoryOutbox)(nil)

// MemoryOutbox is a bounded in-process queue between the engine and a
// Dispatcher. Enqueue never blocks.
type MemoryOutbox struct {
	ch chan gar.Notification
}

// NewMemoryOutbox creates an outbox holding up to size notifications.
func NewMemoryOutbox(size int) *MemoryOutbox {
	if size <= 0 {
		size = 1
	}
	return &MemoryOutbox{ch: make(chan gar.Notification, size)}
}

// Enqueue adds n to the queue, or returns ErrOutboxFull.
func (o *MemoryOutbox) Enqueue(ctx context.Context, n gar.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case o.ch <- n:
		return nil
	default:
		return ErrOutboxFull
	}
}

// C returns the receive side of the queue.
func (o *MemoryOutbox) C() <-chan gar.Notification {
	return o.ch
}

// Len returns the number of queued notifications.
func (o *MemoryOutbox) Len() int {
	return len(o.ch)
}
