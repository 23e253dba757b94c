// Package event provides lifecycle events and an event bus for the
// guaranteed-transaction engine.
package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a lifecycle event
type EventType string

const (
	// Transaction lifecycle events
	EventTxCreated       EventType = "transaction.created"
	EventStatusChanged   EventType = "transaction.status_changed"
	EventAutoCompleted   EventType = "transaction.auto_completed"
	EventDisputeOpened   EventType = "dispute.opened"
	EventDisputeResolved EventType = "dispute.resolved"

	// Notification events
	EventNotificationSent   EventType = "notification.sent"
	EventNotificationFailed EventType = "notification.failed"

	// Circuit breaker events
	EventCircuitOpened EventType = "circuit.opened"
	EventCircuitClosed EventType = "circuit.closed"

	// Sweep events
	EventSweepStarted   EventType = "sweep.started"
	EventSweepCompleted EventType = "sweep.completed"

	// Alert events
	EventAlertWarning  EventType = "alert.warning"
	EventAlertCritical EventType = "alert.critical"
)

// Event is a lifecycle notification published on the bus.
type Event struct {
	ID        string         // unique event id
	Type      EventType      // event type
	Reference string         // transaction reference
	Status    string         // status reached (status events only)
	Timestamp time.Time      // publication time
	Data      map[string]any // extra payload
	Error     error          // failure cause (failure events only)
}

// NewEvent creates a new event with the given type and automatically sets the
// id and timestamp.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      make(map[string]any),
	}
}

// WithReference sets the transaction reference on the event.
func (e Event) WithReference(ref string) Event {
	e.Reference = ref
	return e
}

// WithStatus sets the status on the event.
func (e Event) WithStatus(status string) Event {
	e.Status = status
	return e
}

// WithError sets the error on the event.
func (e Event) WithError(err error) Event {
	e.Error = err
	return e
}

// WithData sets a key-value pair in the event data.
func (e Event) WithData(key string, value any) Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}
