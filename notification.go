package gar

import (
	"context"
	"fmt"
	"time"
)

// Notification is a pending client notification produced by a transition.
// It points at the timeline entry whose NotifiedClient flag is flipped once
// the message is delivered.
type Notification struct {
	Reference      string    `json:"reference"`
	EventIndex     int       `json:"event_index"`
	PreviousStatus Status    `json:"previous_status"`
	NewStatus      Status    `json:"new_status"`
	RequestedAt    time.Time `json:"requested_at"`
}

// Key identifies the notification across retries.
func (n Notification) Key() string {
	return fmt.Sprintf("notify:%s:%d", n.Reference, n.EventIndex)
}

// NotificationFor rebuilds the notification of timeline entry idx.
func NotificationFor(tx *Transaction, idx int) (Notification, bool) {
	if idx < 0 || idx >= len(tx.Timeline) {
		return Notification{}, false
	}
	e := tx.Timeline[idx]
	prev := e.Status
	if idx > 0 {
		prev = tx.Timeline[idx-1].Status
	}
	return Notification{
		Reference:      tx.Reference,
		EventIndex:     idx,
		PreviousStatus: prev,
		NewStatus:      e.Status,
		RequestedAt:    e.Timestamp,
	}, true
}

// StatusChange is what a Notifier receives to render and send a message.
type StatusChange struct {
	Transaction    *Transaction
	PreviousStatus Status
	NewStatus      Status
}

// Notifier renders and delivers a status-change message (email, SMS).
// The engine never inspects the message content.
type Notifier interface {
	Notify(ctx context.Context, change StatusChange) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, change StatusChange) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, change StatusChange) error {
	return f(ctx, change)
}

// Outbox receives pending notifications after the transition is persisted.
// Enqueue errors are logged by the engine and never undo the transition.
type Outbox interface {
	Enqueue(ctx context.Context, n Notification) error
}
