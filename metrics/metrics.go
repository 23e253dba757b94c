// Package metrics provides the metrics interface for the transaction engine.
package metrics

import (
	"time"

	"gar/circuit"
)

// Metrics defines the interface for collecting observability metrics.
// Statuses are passed as their wire strings.
type Metrics interface {
	// Transaction metrics
	TransactionCreated(currency string)
	TransitionApplied(from, to string)
	TransitionRejected(from, to, reason string)
	ConflictRetried(operation string)

	// Dispute metrics
	DisputeOpened()
	DisputeResolved(decision string)

	// Sweep metrics
	SweepScanned(count int)
	SweepProcessed(success bool)

	// Notification metrics
	NotificationSent(status string, duration time.Duration)
	NotificationFailed(status, reason string)

	// Circuit breaker metrics
	CircuitStateChanged(service string, state circuit.State)

	// Lock metrics
	LockAcquired(duration time.Duration)
	LockFailed(reason string)
}

// NoopMetrics is a no-op implementation of Metrics for testing or when metrics are disabled.
type NoopMetrics struct{}

var _ Metrics = (*NoopMetrics)(nil)

func (n *NoopMetrics) TransactionCreated(currency string)                      {}
func (n *NoopMetrics) TransitionApplied(from, to string)                       {}
func (n *NoopMetrics) TransitionRejected(from, to, reason string)              {}
func (n *NoopMetrics) ConflictRetried(operation string)                        {}
func (n *NoopMetrics) DisputeOpened()                                          {}
func (n *NoopMetrics) DisputeResolved(decision string)                         {}
func (n *NoopMetrics) SweepScanned(count int)                                  {}
func (n *NoopMetrics) SweepProcessed(success bool)                             {}
func (n *NoopMetrics) NotificationSent(status string, d time.Duration)         {}
func (n *NoopMetrics) NotificationFailed(status, reason string)                {}
func (n *NoopMetrics) CircuitStateChanged(service string, state circuit.State) {}
func (n *NoopMetrics) LockAcquired(duration time.Duration)                     {}
func (n *NoopMetrics) LockFailed(reason string)                                {}
