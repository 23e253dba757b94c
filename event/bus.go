package event

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMissingEventType is returned by Publish for an event without a type.
var ErrMissingEventType = errors.New("event type is required")

// EventHandler handles a published event
type EventHandler func(ctx context.Context, event Event) error

// EventBus fans lifecycle events out to subscribers
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// Logger defines the logging interface
type Logger interface {
	Printf(format string, v ...any)
}

type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[EventBus] "+format, v...)
}

// subscription is one handler and the event type it listens to. An empty
// eventType receives everything.
type subscription struct {
	eventType EventType
	handler   EventHandler
}

func (s subscription) wants(t EventType) bool {
	return s.eventType == "" || s.eventType == t
}

// MemoryEventBus delivers events synchronously, in subscription order, on
// the publisher's goroutine. Handler failures are logged with the
// transaction reference and never reach the publisher.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger Logger
}

// MemoryEventBusOption configures a MemoryEventBus
type MemoryEventBusOption func(*MemoryEventBus)

// WithLogger sets a custom logger for the event bus.
func WithLogger(logger Logger) MemoryEventBusOption {
	return func(b *MemoryEventBus) {
		b.logger = logger
	}
}

// NewMemoryEventBus creates a new in-memory event bus.
func NewMemoryEventBus(opts ...MemoryEventBusOption) *MemoryEventBus {
	b := &MemoryEventBus{logger: &defaultLogger{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers event to every matching subscriber. Events built without
// NewEvent get an id and timestamp here.
func (b *MemoryEventBus) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return ErrMissingEventType
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if s.wants(event.Type) {
			b.deliver(ctx, s.handler, event)
		}
	}
	return nil
}

func (b *MemoryEventBus) deliver(ctx context.Context, handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("handler panic on %s ref=%s status=%s: %v", event.Type, event.Reference, event.Status, r)
		}
	}()

	if err := handler(ctx, event); err != nil {
		b.logger.Printf("handler failed on %s ref=%s status=%s: %v", event.Type, event.Reference, event.Status, err)
	}
}

// Subscribe registers handler for one event type.
func (b *MemoryEventBus) Subscribe(eventType EventType, handler EventHandler) error {
	if eventType == "" {
		return ErrMissingEventType
	}
	b.add(subscription{eventType: eventType, handler: handler})
	return nil
}

// SubscribeAll registers handler for every event.
func (b *MemoryEventBus) SubscribeAll(handler EventHandler) error {
	b.add(subscription{handler: handler})
	return nil
}

// add copies on write so Publish can iterate without holding the lock.
func (b *MemoryEventBus) add(s subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := make([]subscription, len(b.subs), len(b.subs)+1)
	copy(subs, b.subs)
	b.subs = append(subs, s)
}

// NoOpEventBus discards every event
type NoOpEventBus struct{}

// NewNoOpEventBus creates a new no-op event bus.
func NewNoOpEventBus() *NoOpEventBus {
	return &NoOpEventBus{}
}

func (b *NoOpEventBus) Publish(_ context.Context, _ Event) error    { return nil }
func (b *NoOpEventBus) Subscribe(_ EventType, _ EventHandler) error { return nil }
func (b *NoOpEventBus) SubscribeAll(_ EventHandler) error           { return nil }
