// Package notify delivers the client notifications requested by status
// changes. Delivery is best-effort: a failure leaves the timeline entry
// pending and never affects the transition that produced it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"gar"
	"gar/circuit"
	"gar/event"
	"gar/idempotency"
	"gar/metrics"
	"gar/tracing"
)

// Config holds the configuration for the dispatcher.
type Config struct {
	// Service names the circuit breaker guarding the notifier.
	Service string
	// Timeout bounds a single send.
	Timeout time.Duration
	// DedupTTL is how long a delivered key is remembered.
	DedupTTL time.Duration
	// RetryInterval is the period of RetryPending while running. Zero disables it.
	RetryInterval time.Duration
	// RetryBatchSize caps the transactions scanned per retry pass.
	RetryBatchSize int
}

// DefaultConfig returns the default configuration for the dispatcher.
func DefaultConfig() Config {
	return ConfigFrom(gar.DefaultConfig())
}

// ConfigFrom extracts the dispatcher settings of an engine configuration.
func ConfigFrom(cfg gar.Config) Config {
	return Config{
		Service:        "notifier",
		Timeout:        cfg.NotifyTimeout,
		DedupTTL:       cfg.NotifyDedupTTL,
		RetryInterval:  cfg.SweepInterval,
		RetryBatchSize: cfg.SweepBatchSize,
	}
}

// Logger defines the logging interface.
type Logger interface {
	Printf(format string, v ...any)
}

// defaultLogger is the default logger implementation.
type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[Dispatcher] "+format, v...)
}

// Dispatcher sends pending notifications through a gar.Notifier and flips
// the NotifiedClient flag of the timeline entry once the send succeeded.
type Dispatcher struct {
	engine        *gar.Engine
	notifier      gar.Notifier
	outbox        *MemoryOutbox
	breakers      circuit.Breaker
	breakerConfig circuit.BreakerConfig
	breaker       circuit.CircuitBreaker
	dedup         idempotency.Checker
	events        event.EventBus
	metrics       metrics.Metrics
	tracer        tracing.Tracer
	config        Config
	logger        Logger

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// DispatcherOption is a function that configures the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithEngine sets the engine used to load transactions and record delivery.
func WithEngine(e *gar.Engine) DispatcherOption {
	return func(d *Dispatcher) {
		d.engine = e
	}
}

// WithNotifier sets the message sender.
func WithNotifier(n gar.Notifier) DispatcherOption {
	return func(d *Dispatcher) {
		d.notifier = n
	}
}

// WithOutbox sets the queue consumed while the dispatcher runs.
func WithOutbox(o *MemoryOutbox) DispatcherOption {
	return func(d *Dispatcher) {
		d.outbox = o
	}
}

// WithBreaker sets the circuit breaker registry guarding the notifier.
func WithBreaker(b circuit.Breaker) DispatcherOption {
	return func(d *Dispatcher) {
		d.breakers = b
	}
}

// WithBreakerConfig sets the configuration of the notifier breaker.
func WithBreakerConfig(cfg circuit.BreakerConfig) DispatcherOption {
	return func(d *Dispatcher) {
		d.breakerConfig = cfg
	}
}

// WithChecker sets the idempotency checker used to deduplicate sends.
func WithChecker(c idempotency.Checker) DispatcherOption {
	return func(d *Dispatcher) {
		d.dedup = c
	}
}

// WithEventBus sets the event bus for the dispatcher.
func WithEventBus(e event.EventBus) DispatcherOption {
	return func(d *Dispatcher) {
		d.events = e
	}
}

// WithMetrics sets the metrics collector for the dispatcher.
func WithMetrics(m metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTracer sets the tracer for the dispatcher.
func WithTracer(t tracing.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = t
	}
}

// WithConfig sets the configuration for the dispatcher.
func WithConfig(cfg Config) DispatcherOption {
	return func(d *Dispatcher) {
		d.config = cfg
	}
}

// WithLogger sets the logger for the dispatcher.
func WithLogger(l Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// NewDispatcher creates a new Dispatcher with the given options.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		breakerConfig: circuit.DefaultBreakerConfig(),
		metrics:       &metrics.NoopMetrics{},
		tracer:        &tracing.NoopTracer{},
		config:        DefaultConfig(),
		logger:        &defaultLogger{},
		stopCh:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.breakers != nil {
		cfg := d.breakerConfig
		cfg.OnStateChange = d.onStateChange
		d.breaker = d.breakers.GetWithConfig(d.config.Service, cfg)
	}
	return d
}

// Enqueue delivers n synchronously. It lets a Dispatcher stand in as the
// engine's outbox when no queue is wanted.
func (d *Dispatcher) Enqueue(ctx context.Context, n gar.Notification) error {
	return d.Deliver(ctx, n)
}

// Deliver sends the notification of one timeline entry. It is a no-op when
// the entry was already delivered.
func (d *Dispatcher) Deliver(ctx context.Context, n gar.Notification) error {
	if d.engine == nil || d.notifier == nil {
		return fmt.Errorf("dispatcher: %w: engine and notifier are required", gar.ErrInvalidConfig)
	}

	ctx, span := d.tracer.StartDelivery(ctx, n.Reference, n.EventIndex)
	defer span.End()

	key := n.Key()
	if d.dedup != nil {
		sent, _, err := d.dedup.Check(ctx, key)
		if err != nil {
			d.logger.Printf("dedup check %s failed: %v", key, err)
		} else if sent {
			span.AddEvent("already_sent")
			return d.markNotified(ctx, n)
		}
	}

	tx, err := d.engine.Get(ctx, n.Reference)
	if err != nil {
		span.SetError(err)
		return err
	}
	if n.EventIndex < 0 || n.EventIndex >= len(tx.Timeline) {
		err := fmt.Errorf("notification %s: event index out of range", key)
		span.SetError(err)
		return err
	}
	if tx.Timeline[n.EventIndex].NotifiedClient {
		return nil
	}

	change := gar.StatusChange{
		Transaction:    tx,
		PreviousStatus: n.PreviousStatus,
		NewStatus:      n.NewStatus,
	}

	start := time.Now()
	err = d.send(ctx, change)
	if err != nil {
		reason := failureReason(err)
		d.metrics.NotificationFailed(string(n.NewStatus), reason)
		d.logger.Printf("notification %s failed (%s): %v", key, reason, err)
		d.publishEvent(ctx, event.NewEvent(event.EventNotificationFailed).
			WithReference(n.Reference).
			WithStatus(string(n.NewStatus)).
			WithData("event_index", n.EventIndex).
			WithData("reason", reason).
			WithError(err))
		span.SetError(err)
		return err
	}
	elapsed := time.Since(start)

	if d.dedup != nil {
		if err := d.dedup.Mark(ctx, key, []byte(uuid.NewString()), d.config.DedupTTL); err != nil {
			d.logger.Printf("dedup mark %s failed: %v", key, err)
		}
	}

	d.metrics.NotificationSent(string(n.NewStatus), elapsed)
	d.publishEvent(ctx, event.NewEvent(event.EventNotificationSent).
		WithReference(n.Reference).
		WithStatus(string(n.NewStatus)).
		WithData("event_index", n.EventIndex))

	return d.markNotified(ctx, n)
}

// send calls the notifier under the breaker and the send timeout.
func (d *Dispatcher) send(ctx context.Context, change gar.StatusChange) error {
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	fn := func() error {
		return d.notifier.Notify(ctx, change)
	}
	if d.breaker == nil {
		return fn()
	}
	return d.breaker.Execute(ctx, fn)
}

func (d *Dispatcher) markNotified(ctx context.Context, n gar.Notification) error {
	if err := d.engine.MarkNotified(ctx, n.Reference, n.EventIndex); err != nil {
		d.logger.Printf("mark notified %s failed: %v", n.Key(), err)
		return err
	}
	return nil
}

// RetryPending re-sends every requested notification that was not
// delivered yet and returns how many went through.
func (d *Dispatcher) RetryPending(ctx context.Context) (int, error) {
	if d.engine == nil {
		return 0, fmt.Errorf("dispatcher: %w: engine is required", gar.ErrInvalidConfig)
	}

	filter := gar.NewFilter().WithPendingNotification().WithPagination(d.config.RetryBatchSize, 0)
	txs, err := d.engine.Store().Find(ctx, filter)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, tx := range txs {
		for _, idx := range tx.PendingNotifications() {
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			n, ok := gar.NotificationFor(tx, idx)
			if !ok {
				continue
			}
			if err := d.Deliver(ctx, n); err != nil {
				continue
			}
			delivered++
		}
	}
	return delivered, nil
}

// Start consumes the outbox and periodically retries pending notifications
// in the background.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.engine == nil || d.notifier == nil {
		return fmt.Errorf("dispatcher: %w: engine and notifier are required", gar.ErrInvalidConfig)
	}

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	stopCh := make(chan struct{})
	d.stopCh = stopCh
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(ctx, stopCh)

	d.logger.Printf("started with timeout=%v, retryInterval=%v", d.config.Timeout, d.config.RetryInterval)
	return nil
}

// Stop stops the dispatcher and waits for the in-flight send.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Printf("stopped")
}

// IsRunning returns true if the dispatcher is running.
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) run(ctx context.Context, stopCh <-chan struct{}) {
	defer d.wg.Done()

	var queue <-chan gar.Notification
	if d.outbox != nil {
		queue = d.outbox.C()
	}

	var retry <-chan time.Time
	if d.config.RetryInterval > 0 {
		ticker := time.NewTicker(d.config.RetryInterval)
		defer ticker.Stop()
		retry = ticker.C
	}

	for {
		select {
		case n := <-queue:
			// Errors are logged by Deliver; the entry stays pending.
			_ = d.Deliver(ctx, n)
		case <-retry:
			if _, err := d.RetryPending(ctx); err != nil {
				d.logger.Printf("retry pending failed: %v", err)
			}
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// onStateChange reports breaker transitions.
func (d *Dispatcher) onStateChange(service string, from, to circuit.State) {
	d.metrics.CircuitStateChanged(service, to)
	d.logger.Printf("circuit %s: %s -> %s", service, from, to)

	var ev event.Event
	switch to {
	case circuit.StateOpen:
		ev = event.NewEvent(event.EventCircuitOpened)
	case circuit.StateClosed:
		ev = event.NewEvent(event.EventCircuitClosed)
	default:
		return
	}
	d.publishEvent(context.Background(), ev.
		WithData("service", service).
		WithData("from", from.String()))
}

// publishEvent publishes an event to the event bus.
func (d *Dispatcher) publishEvent(ctx context.Context, e event.Event) {
	if d.events != nil {
		d.events.Publish(ctx, e)
	}
}

// failureReason maps a send error to a low-cardinality metric label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, gar.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "send_error"
	}
}
