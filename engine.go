package gar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"gar/event"
	"gar/metrics"
	"gar/tracing"
)

// Logger defines the logging interface.
type Logger interface {
	Printf(format string, v ...any)
}

// defaultLogger is the default logger implementation.
type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[Engine] "+format, v...)
}

// AdvanceOptions carries the optional inputs of a status change.
type AdvanceOptions struct {
	Note         string
	AdminID      string
	NotifyClient bool
	Delivery     *DeliveryInfo
}

// AdvanceResult is the outcome of a successful transition.
type AdvanceResult struct {
	// Transaction is the persisted state after the transition.
	Transaction *Transaction
	// Notification is set when a client notification was requested.
	Notification *Notification
}

// prepareFunc mutates the working copy before validation. It may set
// sub-records (dispute, refund) but never the status. Operations with a
// prepare step reject a same-status move.
type prepareFunc func(tx *Transaction, now time.Time) error

// Engine is the main entry point of the guaranteed-transaction lifecycle.
// Every status change goes through it.
type Engine struct {
	store    TxStore
	refs     ReferenceGenerator
	outbox   Outbox
	notifier Notifier
	events   event.EventBus
	metrics  metrics.Metrics
	tracer   tracing.Tracer
	logger   Logger
	clock    func() time.Time
	config   Config
}

// EngineOption is a function that configures the Engine.
type EngineOption func(*Engine)

// WithEngineStore sets the store for the engine.
func WithEngineStore(s TxStore) EngineOption {
	return func(e *Engine) {
		e.store = s
	}
}

// WithEngineReferenceGenerator overrides the reference generator.
func WithEngineReferenceGenerator(g ReferenceGenerator) EngineOption {
	return func(e *Engine) {
		e.refs = g
	}
}

// WithEngineOutbox sets where pending notifications are enqueued.
func WithEngineOutbox(o Outbox) EngineOption {
	return func(e *Engine) {
		e.outbox = o
	}
}

// WithEngineNotifier sets a notifier used inline when no outbox is
// configured. Send failures are logged and leave the notification pending.
func WithEngineNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithEngineEventBus sets the event bus for the engine.
func WithEngineEventBus(eb event.EventBus) EngineOption {
	return func(e *Engine) {
		e.events = eb
	}
}

// WithEngineMetrics sets the metrics collector for the engine.
func WithEngineMetrics(m metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithEngineTracer sets the tracer for the engine.
func WithEngineTracer(t tracing.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithEngineLogger sets the logger for the engine.
func WithEngineLogger(l Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithEngineClock overrides the time source.
func WithEngineClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithEngineConfig sets the configuration for the engine.
func WithEngineConfig(cfg Config) EngineOption {
	return func(e *Engine) {
		e.config = cfg
	}
}

// NewEngine creates a new Engine with the given options.
// The engine must be configured with a store before use. Config fields left
// unset or invalid fall back to DefaultConfig values.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		refs:    NewReferenceGenerator(),
		events:  event.NewNoOpEventBus(),
		metrics: &metrics.NoopMetrics{},
		tracer:  &tracing.NoopTracer{},
		logger:  &defaultLogger{},
		clock:   time.Now,
		config:  DefaultConfig(),
	}

	for _, opt := range opts {
		opt(e)
	}
	if err := e.config.Validate(); err != nil {
		e.config = e.config.withDefaults()
		e.logger.Printf("incomplete configuration, unset fields use defaults: %+v", e.config)
	}

	return e
}

// Store returns the underlying store.
func (e *Engine) Store() TxStore {
	return e.store
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.clock()
}

// Create allocates a reference, attaches the default guarantees and persists
// a new pending_payment transaction.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*Transaction, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= e.config.ReferenceAttempts; attempt++ {
		now := e.clock()
		ref, err := e.refs.Generate(now)
		if err != nil {
			return nil, fmt.Errorf("generate reference: %w", err)
		}

		tx := NewTransaction(ref, p, now)
		err = e.store.Create(ctx, tx)
		if errors.Is(err, ErrDuplicateReference) {
			e.logger.Printf("reference %s already taken (attempt %d/%d)", ref, attempt, e.config.ReferenceAttempts)
			continue
		}
		if err != nil {
			return nil, err
		}

		e.metrics.TransactionCreated(tx.Currency)
		e.publishEvent(ctx, event.NewEvent(event.EventTxCreated).
			WithReference(tx.Reference).
			WithStatus(string(tx.Status)).
			WithData("amount", tx.Amount).
			WithData("currency", tx.Currency))
		return tx, nil
	}

	return nil, ErrReferenceExhausted
}

// Get retrieves a transaction by reference.
func (e *Engine) Get(ctx context.Context, reference string) (*Transaction, error) {
	return e.store.Get(ctx, reference)
}

// ListForUser returns all transactions owned by userID.
func (e *Engine) ListForUser(ctx context.Context, userID string) ([]*Transaction, error) {
	return e.store.Find(ctx, NewFilter().WithUserID(userID))
}

// Advance moves the transaction to next. It is the single mutation entry
// point for status changes.
func (e *Engine) Advance(ctx context.Context, reference string, next Status, opts AdvanceOptions) (*AdvanceResult, error) {
	return e.transition(ctx, "gar.advance", reference, next, opts, nil)
}

// transition loads, prepares, validates, records and persists a status
// change, reapplying it on version conflicts.
func (e *Engine) transition(ctx context.Context, op, reference string, next Status, opts AdvanceOptions, prepare prepareFunc) (*AdvanceResult, error) {
	ctx, span := e.tracer.StartOperation(ctx, op, reference)
	defer span.End()
	span.SetAttributes(attribute.String("gar.status.next", string(next)))

	var (
		result   *AdvanceResult
		previous Status
	)
	for attempt := 0; ; attempt++ {
		current, err := e.store.Get(ctx, reference)
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		previous = current.Status

		res, changed, err := e.apply(current, next, opts, prepare, e.clock())
		if err != nil {
			e.metrics.TransitionRejected(string(previous), string(next), rejectReason(err))
			span.SetError(err)
			return nil, err
		}
		if !changed {
			return res, nil
		}

		err = e.store.Update(ctx, res.Transaction)
		if errors.Is(err, ErrVersionConflict) && attempt < e.config.ConflictRetries {
			e.metrics.ConflictRetried(op)
			e.logger.Printf("version conflict on %s (attempt %d/%d), reloading", reference, attempt+1, e.config.ConflictRetries)
			continue
		}
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		result = res
		break
	}

	span.SetAttributes(attribute.String("gar.status.previous", string(previous)))
	e.metrics.TransitionApplied(string(previous), string(next))
	e.publishEvent(ctx, event.NewEvent(event.EventStatusChanged).
		WithReference(reference).
		WithStatus(string(next)).
		WithData("previous_status", string(previous)))

	if result.Notification != nil {
		e.enqueue(ctx, result.Transaction, *result.Notification)
	}
	return result, nil
}

// apply computes the next state of current without touching the store.
// changed is false for the idempotent same-status case.
func (e *Engine) apply(current *Transaction, next Status, opts AdvanceOptions, prepare prepareFunc, now time.Time) (*AdvanceResult, bool, error) {
	working := current.Clone()
	if prepare != nil {
		if err := prepare(working, now); err != nil {
			return nil, false, err
		}
	}
	if err := ValidateTransition(working, next, now); err != nil {
		return nil, false, err
	}
	previous := working.Status
	if previous == next {
		// sub-records set by prepare are only persisted with a status change
		if prepare != nil {
			return nil, false, &TransitionError{Previous: previous, Next: next, Err: ErrInvalidTransition}
		}
		return &AdvanceResult{Transaction: current}, false, nil
	}

	notify := opts.NotifyClient && working.HasClientEmail()
	working = AppendEvent(working, TimelineEvent{
		Status:          next,
		Timestamp:       now,
		Note:            opts.Note,
		NotifyRequested: notify,
		AdminID:         opts.AdminID,
	})
	e.stampDates(working, next, now)
	if opts.Delivery != nil {
		if working.Delivery == nil {
			working.Delivery = &DeliveryInfo{}
		}
		working.Delivery.merge(opts.Delivery)
	}
	working.IncrementVersion(now)

	res := &AdvanceResult{Transaction: working}
	if notify {
		res.Notification = &Notification{
			Reference:      working.Reference,
			EventIndex:     len(working.Timeline) - 1,
			PreviousStatus: previous,
			NewStatus:      next,
			RequestedAt:    now,
		}
	}
	return res, true, nil
}

// stampDates sets the derived timestamp of the status reached. Each field is
// written once.
func (e *Engine) stampDates(tx *Transaction, next Status, now time.Time) {
	switch next {
	case StatusPaymentReceived:
		if tx.PaymentReceivedAt == nil {
			tx.PaymentReceivedAt = cloneTime(&now)
			tx.PaidAmount = tx.Amount
		}
	case StatusOrderPlaced:
		if tx.OrderPlacedAt == nil {
			tx.OrderPlacedAt = cloneTime(&now)
		}
	case StatusDelivered:
		if tx.DeliveredAt == nil {
			tx.DeliveredAt = cloneTime(&now)
		}
		if tx.VerificationEndsAt == nil {
			ends := tx.DeliveredAt.Add(e.config.VerificationWindow)
			tx.VerificationEndsAt = &ends
		}
	case StatusCompleted:
		if tx.CompletedAt == nil {
			tx.CompletedAt = cloneTime(&now)
		}
	}
}

// MarkNotified flips NotifiedClient on timeline entry eventIndex. It is the
// only mutation allowed on a recorded event.
func (e *Engine) MarkNotified(ctx context.Context, reference string, eventIndex int) error {
	for attempt := 0; ; attempt++ {
		tx, err := e.store.Get(ctx, reference)
		if err != nil {
			return err
		}
		if eventIndex < 0 || eventIndex >= len(tx.Timeline) {
			return fmt.Errorf("mark notified %s: event index %d out of range", reference, eventIndex)
		}
		if tx.Timeline[eventIndex].NotifiedClient {
			return nil
		}
		tx.Timeline[eventIndex].NotifiedClient = true
		tx.IncrementVersion(e.clock())

		err = e.store.Update(ctx, tx)
		if errors.Is(err, ErrVersionConflict) && attempt < e.config.ConflictRetries {
			e.metrics.ConflictRetried("gar.mark_notified")
			continue
		}
		return err
	}
}

// enqueue hands the notification to the outbox, or sends it inline when only
// a notifier is configured. Failures are logged only.
func (e *Engine) enqueue(ctx context.Context, tx *Transaction, n Notification) {
	switch {
	case e.outbox != nil:
		if err := e.outbox.Enqueue(ctx, n); err != nil {
			e.logger.Printf("enqueue notification %s failed: %v", n.Key(), err)
		}
	case e.notifier != nil:
		e.notifyInline(ctx, tx, n)
	}
}

func (e *Engine) notifyInline(ctx context.Context, tx *Transaction, n Notification) {
	sendCtx, cancel := context.WithTimeout(ctx, e.config.NotifyTimeout)
	defer cancel()

	start := time.Now()
	err := e.notifier.Notify(sendCtx, StatusChange{
		Transaction:    tx.Clone(),
		PreviousStatus: n.PreviousStatus,
		NewStatus:      n.NewStatus,
	})
	if err != nil {
		e.metrics.NotificationFailed(string(n.NewStatus), "send_error")
		e.logger.Printf("notification %s failed, left pending: %v", n.Key(), err)
		return
	}
	e.metrics.NotificationSent(string(n.NewStatus), time.Since(start))

	if err := e.MarkNotified(ctx, n.Reference, n.EventIndex); err != nil {
		e.logger.Printf("mark notification %s failed: %v", n.Key(), err)
	}
}

// publishEvent publishes an event to the event bus.
func (e *Engine) publishEvent(ctx context.Context, ev event.Event) {
	if e.events != nil {
		e.events.Publish(ctx, ev)
	}
}

// rejectReason maps a rejection to a low-cardinality metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrDeliveryNotRecorded):
		return "delivery_not_recorded"
	case errors.Is(err, ErrDisputeWindowExpired):
		return "window_expired"
	case errors.Is(err, ErrDuplicateDispute):
		return "duplicate_dispute"
	case errors.Is(err, ErrUnknownStatus):
		return "unknown_status"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "precondition"
	}
}
