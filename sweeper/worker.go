// Package sweeper provides the reconciliation worker that completes
// transactions whose verification window elapsed without a dispute.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"gar"
	"gar/event"
	"gar/lock"
	"gar/metrics"
	"gar/tracing"
)

// Config holds the configuration for the sweeper.
type Config struct {
	// Interval is the time between two sweeps.
	Interval time.Duration
	// BatchSize caps the candidates handled per sweep.
	BatchSize int
	// LockTTL is the TTL of the per-transaction lock.
	LockTTL time.Duration
}

// DefaultConfig returns the default configuration for the sweeper.
func DefaultConfig() Config {
	return ConfigFrom(gar.DefaultConfig())
}

// ConfigFrom extracts the sweeper settings of an engine configuration.
func ConfigFrom(cfg gar.Config) Config {
	return Config{
		Interval:  cfg.SweepInterval,
		BatchSize: cfg.SweepBatchSize,
		LockTTL:   cfg.SweepLockTTL,
	}
}

// Logger defines the logging interface.
type Logger interface {
	Printf(format string, v ...any)
}

// defaultLogger is the default logger implementation.
type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[Sweeper] "+format, v...)
}

// Failure is a transaction the sweep could not complete.
type Failure struct {
	Reference string
	Err       error
}

// Report summarizes one sweep.
type Report struct {
	StartedAt time.Time
	Scanned   int
	Completed []string
	// Skipped holds references that were locked elsewhere or no longer
	// eligible when reloaded.
	Skipped  []string
	Failures []Failure
}

// Worker periodically auto-completes transactions whose verification window
// elapsed. Several workers may share a store when they share a Locker.
type Worker struct {
	engine  *gar.Engine
	locker  lock.Locker
	events  event.EventBus
	metrics metrics.Metrics
	tracer  tracing.Tracer
	config  Config
	logger  Logger
	clock   func() time.Time

	// State
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex

	// Counters
	scannedCount   int64
	completedCount int64
	skippedCount   int64
	failedCount    int64
	lastSweep      time.Time
	statsMu        sync.RWMutex
}

// WorkerOption is a function that configures the Worker.
type WorkerOption func(*Worker)

// WithEngine sets the engine used to complete transactions.
func WithEngine(e *gar.Engine) WorkerOption {
	return func(w *Worker) {
		w.engine = e
	}
}

// WithLocker sets the locker taken around each transaction.
func WithLocker(l lock.Locker) WorkerOption {
	return func(w *Worker) {
		w.locker = l
	}
}

// WithEventBus sets the event bus for the worker.
func WithEventBus(e event.EventBus) WorkerOption {
	return func(w *Worker) {
		w.events = e
	}
}

// WithMetrics sets the metrics collector for the worker.
func WithMetrics(m metrics.Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithTracer sets the tracer for the worker.
func WithTracer(t tracing.Tracer) WorkerOption {
	return func(w *Worker) {
		w.tracer = t
	}
}

// WithConfig sets the configuration for the worker.
func WithConfig(cfg Config) WorkerOption {
	return func(w *Worker) {
		w.config = cfg
	}
}

// WithLogger sets the logger for the worker.
func WithLogger(l Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

// WithClock overrides the time source used to select candidates.
func WithClock(clock func() time.Time) WorkerOption {
	return func(w *Worker) {
		w.clock = clock
	}
}

// NewWorker creates a new sweeper with the given options.
// A worker without a clock follows the engine's clock.
func NewWorker(opts ...WorkerOption) *Worker {
	w := &Worker{
		config:  DefaultConfig(),
		metrics: &metrics.NoopMetrics{},
		tracer:  &tracing.NoopTracer{},
		logger:  &defaultLogger{},
		stopCh:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.clock == nil {
		if w.engine != nil {
			w.clock = w.engine.Now
		} else {
			w.clock = time.Now
		}
	}
	return w
}

// Start starts the sweeper in the background. The first sweep runs
// immediately.
func (w *Worker) Start(ctx context.Context) error {
	if w.engine == nil {
		return fmt.Errorf("sweeper: %w: engine is required", gar.ErrInvalidConfig)
	}
	if w.config.Interval <= 0 {
		return fmt.Errorf("sweeper: %w: interval must be positive", gar.ErrInvalidConfig)
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("sweeper already running")
	}
	w.running = true
	stopCh := make(chan struct{})
	w.stopCh = stopCh
	w.wg.Add(1)
	w.mu.Unlock()

	go w.run(ctx, stopCh)

	w.logger.Printf("started with interval=%v, batch=%d", w.config.Interval, w.config.BatchSize)
	return nil
}

// Stop stops the sweeper and waits for the running sweep to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Printf("stopped")
}

// IsRunning returns true if the worker is running.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// run is the main loop of the sweeper.
func (w *Worker) run(ctx context.Context, stopCh <-chan struct{}) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.ScanOnce(ctx)

	for {
		select {
		case <-ticker.C:
			w.ScanOnce(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ScanOnce runs a single sweep and reports what happened to each candidate.
// A failing transaction never stops the sweep. Running it twice with no
// intervening change completes nothing the second time.
func (w *Worker) ScanOnce(ctx context.Context) Report {
	now := w.clock()
	report := Report{StartedAt: now}

	ctx, span := w.tracer.StartOperation(ctx, "gar.sweep", "")
	defer span.End()

	w.publishEvent(ctx, event.NewEvent(event.EventSweepStarted))

	candidates, err := w.engine.Store().Find(ctx, gar.SweepFilter(now, w.config.BatchSize))
	if err != nil {
		w.logger.Printf("failed to find candidates: %v", err)
		span.SetError(err)
		w.publishEvent(ctx, event.NewEvent(event.EventAlertWarning).
			WithData("message", fmt.Sprintf("sweep query failed: %v", err)).
			WithError(err))
		return report
	}

	report.Scanned = len(candidates)
	w.metrics.SweepScanned(len(candidates))

	for _, tx := range candidates {
		if ctx.Err() != nil {
			break
		}
		w.sweepOne(ctx, tx.Reference, &report)
	}

	span.SetAttributes(
		attribute.Int("gar.sweep.scanned", report.Scanned),
		attribute.Int("gar.sweep.completed", len(report.Completed)),
		attribute.Int("gar.sweep.failed", len(report.Failures)),
	)
	w.record(report)

	w.publishEvent(ctx, event.NewEvent(event.EventSweepCompleted).
		WithData("scanned", report.Scanned).
		WithData("completed", len(report.Completed)).
		WithData("skipped", len(report.Skipped)).
		WithData("failed", len(report.Failures)))

	if len(report.Completed) > 0 || len(report.Failures) > 0 {
		w.logger.Printf("sweep done: scanned=%d completed=%d skipped=%d failed=%d",
			report.Scanned, len(report.Completed), len(report.Skipped), len(report.Failures))
	}
	return report
}

// sweepOne completes a single candidate under its lock.
func (w *Worker) sweepOne(ctx context.Context, reference string, report *Report) {
	if w.locker != nil {
		start := time.Now()
		handle, err := w.locker.Acquire(ctx, "sweep:"+reference, w.config.LockTTL)
		if err != nil {
			// Another instance is processing this transaction
			w.metrics.LockFailed("contended")
			w.logger.Printf("skipping %s: %v", reference, err)
			report.Skipped = append(report.Skipped, reference)
			return
		}
		w.metrics.LockAcquired(time.Since(start))
		defer func() {
			if err := handle.Release(ctx); err != nil {
				w.logger.Printf("release lock %s: %v", handle.Key(), err)
			}
		}()
	}

	_, err := w.engine.CompleteVerified(ctx, reference)
	switch {
	case err == nil:
		report.Completed = append(report.Completed, reference)
		w.metrics.SweepProcessed(true)
	case errors.Is(err, gar.ErrNotEligible):
		report.Skipped = append(report.Skipped, reference)
	default:
		w.logger.Printf("failed to complete %s: %v", reference, err)
		report.Failures = append(report.Failures, Failure{Reference: reference, Err: err})
		w.metrics.SweepProcessed(false)
		w.publishEvent(ctx, event.NewEvent(event.EventAlertWarning).
			WithReference(reference).
			WithData("message", fmt.Sprintf("auto-completion failed: %v", err)).
			WithError(err))
	}
}

// publishEvent publishes an event to the event bus.
func (w *Worker) publishEvent(ctx context.Context, e event.Event) {
	if w.events != nil {
		w.events.Publish(ctx, e)
	}
}

func (w *Worker) record(r Report) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.scannedCount += int64(r.Scanned)
	w.completedCount += int64(len(r.Completed))
	w.skippedCount += int64(len(r.Skipped))
	w.failedCount += int64(len(r.Failures))
	w.lastSweep = r.StartedAt
}

// Stats holds the cumulative counters of the sweeper.
type Stats struct {
	ScannedCount   int64     `json:"scanned"`
	CompletedCount int64     `json:"completed"`
	SkippedCount   int64     `json:"skipped"`
	FailedCount    int64     `json:"failed"`
	LastSweep      time.Time `json:"last_sweep"`
	IsRunning      bool      `json:"running"`
}

// Stats returns the current statistics of the sweeper.
func (w *Worker) Stats() Stats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return Stats{
		ScannedCount:   w.scannedCount,
		CompletedCount: w.completedCount,
		SkippedCount:   w.skippedCount,
		FailedCount:    w.failedCount,
		LastSweep:      w.lastSweep,
		IsRunning:      w.IsRunning(),
	}
}

// ResetStats resets the statistics counters.
func (w *Worker) ResetStats() {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.scannedCount = 0
	w.completedCount = 0
	w.skippedCount = 0
	w.failedCount = 0
}
