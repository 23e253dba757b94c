// Package prometheus provides a Prometheus implementation of the metrics interface.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gar/circuit"
	"gar/metrics"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
type PrometheusMetrics struct {
	// Transaction metrics
	txCreatedTotal          *prometheus.CounterVec
	transitionsTotal        *prometheus.CounterVec
	transitionRejectedTotal *prometheus.CounterVec
	conflictRetriesTotal    *prometheus.CounterVec

	// Dispute metrics
	disputesOpenedTotal   prometheus.Counter
	disputesResolvedTotal *prometheus.CounterVec

	// Sweep metrics
	sweepScannedTotal   prometheus.Counter
	sweepProcessedTotal *prometheus.CounterVec

	// Notification metrics
	notificationsSentTotal   *prometheus.CounterVec
	notificationsFailedTotal *prometheus.CounterVec
	notificationDuration     prometheus.Histogram

	// Circuit breaker metrics
	circuitState *prometheus.GaugeVec

	// Lock metrics
	lockAcquiredTotal   prometheus.Counter
	lockFailedTotal     *prometheus.CounterVec
	lockAcquireDuration prometheus.Histogram
}

var _ metrics.Metrics = (*PrometheusMetrics)(nil)

// Config holds configuration for PrometheusMetrics.
type Config struct {
	// Namespace is the prefix for all metrics (e.g., "gar")
	Namespace string
	// Subsystem is an optional subsystem name
	Subsystem string
	// Registry is the Prometheus registry to use. If nil, the default registry is used.
	Registry prometheus.Registerer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "gar",
		Subsystem: "",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// New creates a new PrometheusMetrics instance with the given configuration.
func New(cfg Config) *PrometheusMetrics {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(cfg.Registry)
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &PrometheusMetrics{
		txCreatedTotal:          counterVec("transactions_created_total", "Total number of guaranteed transactions created", "currency"),
		transitionsTotal:        counterVec("transitions_total", "Total number of status transitions applied", "from", "to"),
		transitionRejectedTotal: counterVec("transitions_rejected_total", "Total number of status transitions rejected", "from", "to", "reason"),
		conflictRetriesTotal:    counterVec("conflict_retries_total", "Total number of optimistic-lock conflicts retried", "operation"),

		disputesOpenedTotal:   counter("disputes_opened_total", "Total number of disputes opened"),
		disputesResolvedTotal: counterVec("disputes_resolved_total", "Total number of disputes resolved", "decision"),

		sweepScannedTotal:   counter("sweep_scanned_total", "Total number of candidates scanned by the reconciliation sweep"),
		sweepProcessedTotal: counterVec("sweep_processed_total", "Total number of candidates processed by the reconciliation sweep", "success"),

		notificationsSentTotal:   counterVec("notifications_sent_total", "Total number of client notifications delivered", "status"),
		notificationsFailedTotal: counterVec("notifications_failed_total", "Total number of client notifications that failed", "status", "reason"),
		notificationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "notification_duration_seconds",
			Help:      "Notification delivery duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),

		circuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "circuit_breaker_state",
			Help:      "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
		}, []string{"service"}),

		lockAcquiredTotal: counter("lock_acquired_total", "Total number of locks acquired"),
		lockFailedTotal:   counterVec("lock_failed_total", "Total number of lock acquisition failures", "reason"),
		lockAcquireDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "lock_acquire_duration_seconds",
			Help:      "Time taken to acquire locks in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		}),
	}
}

// Transaction metrics

func (p *PrometheusMetrics) TransactionCreated(currency string) {
	p.txCreatedTotal.WithLabelValues(currency).Inc()
}

func (p *PrometheusMetrics) TransitionApplied(from, to string) {
	p.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (p *PrometheusMetrics) TransitionRejected(from, to, reason string) {
	p.transitionRejectedTotal.WithLabelValues(from, to, reason).Inc()
}

func (p *PrometheusMetrics) ConflictRetried(operation string) {
	p.conflictRetriesTotal.WithLabelValues(operation).Inc()
}

// Dispute metrics

func (p *PrometheusMetrics) DisputeOpened() {
	p.disputesOpenedTotal.Inc()
}

func (p *PrometheusMetrics) DisputeResolved(decision string) {
	p.disputesResolvedTotal.WithLabelValues(decision).Inc()
}

// Sweep metrics

func (p *PrometheusMetrics) SweepScanned(count int) {
	p.sweepScannedTotal.Add(float64(count))
}

func (p *PrometheusMetrics) SweepProcessed(success bool) {
	p.sweepProcessedTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// Notification metrics

func (p *PrometheusMetrics) NotificationSent(status string, duration time.Duration) {
	p.notificationsSentTotal.WithLabelValues(status).Inc()
	p.notificationDuration.Observe(duration.Seconds())
}

func (p *PrometheusMetrics) NotificationFailed(status, reason string) {
	p.notificationsFailedTotal.WithLabelValues(status, reason).Inc()
}

// Circuit breaker metrics

func (p *PrometheusMetrics) CircuitStateChanged(service string, state circuit.State) {
	p.circuitState.WithLabelValues(service).Set(float64(state))
}

// Lock metrics

func (p *PrometheusMetrics) LockAcquired(duration time.Duration) {
	p.lockAcquiredTotal.Inc()
	p.lockAcquireDuration.Observe(duration.Seconds())
}

func (p *PrometheusMetrics) LockFailed(reason string) {
	p.lockFailedTotal.WithLabelValues(reason).Inc()
}
