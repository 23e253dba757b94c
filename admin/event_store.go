package admin

import (
	"context"
	"sync"
	"time"

	"gar/event"
)

// EventStore keeps the most recent bus events in memory for the event log
// endpoint. Once maxEvents is reached the oldest events are dropped.
type EventStore struct {
	events    []StoredEvent
	maxEvents int
	nextID    int64
	mu        sync.RWMutex
}

// StoredEvent is the JSON form of a bus event.
type StoredEvent struct {
	ID        int64          `json:"id"`
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	Reference string         `json:"reference,omitempty"`
	Status    string         `json:"status,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// EventFilter selects stored events.
type EventFilter struct {
	Type      string
	Reference string
	Limit     int
	Offset    int
}

func (f EventFilter) match(e StoredEvent) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Reference != "" && e.Reference != f.Reference {
		return false
	}
	return true
}

// NewEventStore creates an event store holding at most maxEvents events.
func NewEventStore(maxEvents int) *EventStore {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &EventStore{
		events:    make([]StoredEvent, 0, maxEvents),
		maxEvents: maxEvents,
	}
}

// Store records e.
func (s *EventStore) Store(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	var errorMsg string
	if e.Error != nil {
		errorMsg = e.Error.Error()
	}

	s.events = append(s.events, StoredEvent{
		ID:        s.nextID,
		EventID:   e.ID,
		Type:      string(e.Type),
		Reference: e.Reference,
		Status:    e.Status,
		Timestamp: e.Timestamp,
		Data:      e.Data,
		Error:     errorMsg,
	})

	if len(s.events) > s.maxEvents {
		excess := len(s.events) - s.maxEvents
		s.events = s.events[excess:]
	}
}

// List returns the matching events, newest first.
func (s *EventStore) List(filter EventFilter) []StoredEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	var filtered []StoredEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		if filter.match(s.events[i]) {
			filtered = append(filtered, s.events[i])
		}
	}

	if filter.Offset >= len(filtered) {
		return []StoredEvent{}
	}
	end := filter.Offset + filter.Limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[filter.Offset:end]
}

// Count returns the number of matching events.
func (s *EventStore) Count(filter EventFilter) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.events {
		if filter.match(e) {
			count++
		}
	}
	return count
}

// EventHandler returns a handler to pass to EventBus.SubscribeAll.
func (s *EventStore) EventHandler() event.EventHandler {
	return func(ctx context.Context, e event.Event) error {
		s.Store(e)
		return nil
	}
}

// Len returns the number of stored events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
