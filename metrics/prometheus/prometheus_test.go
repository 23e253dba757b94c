package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"gar/circuit"
)

func newTestMetrics(t *testing.T) (*PrometheusMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(Config{Namespace: "test", Registry: reg}), reg
}

// findFamily gathers reg and returns the named metric family.
func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelled returns the series whose labels include all of want.
func labelled(mf *dto.MetricFamily, want map[string]string) *dto.Metric {
	for _, m := range mf.GetMetric() {
		matched := 0
		for _, l := range m.GetLabel() {
			if v, ok := want[l.GetName()]; ok && v == l.GetValue() {
				matched++
			}
		}
		if matched == len(want) {
			return m
		}
	}
	return nil
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Namespace != "gar" {
		t.Errorf("expected namespace 'gar', got '%s'", cfg.Namespace)
	}
	if cfg.Subsystem != "" {
		t.Errorf("expected empty subsystem, got '%s'", cfg.Subsystem)
	}
	if cfg.Registry != prometheus.DefaultRegisterer {
		t.Error("expected default registry")
	}
}

func TestPrometheusMetrics_TransactionCreated(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.TransactionCreated("XOF")
	m.TransactionCreated("XOF")
	m.TransactionCreated("EUR")

	mf := findFamily(t, reg, "test_transactions_created_total")
	if len(mf.GetMetric()) != 2 {
		t.Errorf("expected 2 metric series, got %d", len(mf.GetMetric()))
	}
	xof := labelled(mf, map[string]string{"currency": "XOF"})
	if xof == nil || xof.GetCounter().GetValue() != 2 {
		t.Errorf("expected XOF count 2, got %v", xof)
	}
}

func TestPrometheusMetrics_Transitions(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.TransitionApplied("delivered", "completed")
	m.TransitionApplied("delivered", "completed")
	m.TransitionRejected("completed", "cancelled", "invalid_transition")

	applied := labelled(findFamily(t, reg, "test_transitions_total"),
		map[string]string{"from": "delivered", "to": "completed"})
	if applied == nil || applied.GetCounter().GetValue() != 2 {
		t.Errorf("expected delivered->completed count 2, got %v", applied)
	}

	rejected := labelled(findFamily(t, reg, "test_transitions_rejected_total"),
		map[string]string{"from": "completed", "to": "cancelled", "reason": "invalid_transition"})
	if rejected == nil || rejected.GetCounter().GetValue() != 1 {
		t.Errorf("expected one rejection, got %v", rejected)
	}
}

func TestPrometheusMetrics_ConflictRetried(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.ConflictRetried("gar.advance")

	s := labelled(findFamily(t, reg, "test_conflict_retries_total"), map[string]string{"operation": "gar.advance"})
	if s == nil || s.GetCounter().GetValue() != 1 {
		t.Errorf("expected one retry, got %v", s)
	}
}

func TestPrometheusMetrics_Disputes(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.DisputeOpened()
	m.DisputeOpened()
	m.DisputeResolved("refund_partial")

	opened := findFamily(t, reg, "test_disputes_opened_total")
	if v := opened.GetMetric()[0].GetCounter().GetValue(); v != 2 {
		t.Errorf("expected 2 disputes opened, got %f", v)
	}
	resolved := labelled(findFamily(t, reg, "test_disputes_resolved_total"), map[string]string{"decision": "refund_partial"})
	if resolved == nil || resolved.GetCounter().GetValue() != 1 {
		t.Errorf("expected one refund_partial resolution, got %v", resolved)
	}
}

func TestPrometheusMetrics_Sweep(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.SweepScanned(7)
	m.SweepProcessed(true)
	m.SweepProcessed(true)
	m.SweepProcessed(false)

	scanned := findFamily(t, reg, "test_sweep_scanned_total")
	if v := scanned.GetMetric()[0].GetCounter().GetValue(); v != 7 {
		t.Errorf("expected 7 scanned, got %f", v)
	}
	processed := findFamily(t, reg, "test_sweep_processed_total")
	ok := labelled(processed, map[string]string{"success": "true"})
	if ok == nil || ok.GetCounter().GetValue() != 2 {
		t.Errorf("expected 2 successes, got %v", ok)
	}
	failed := labelled(processed, map[string]string{"success": "false"})
	if failed == nil || failed.GetCounter().GetValue() != 1 {
		t.Errorf("expected 1 failure, got %v", failed)
	}
}

func TestPrometheusMetrics_Notifications(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.NotificationSent("delivered", 50*time.Millisecond)
	m.NotificationFailed("delivered", "circuit_open")

	sent := labelled(findFamily(t, reg, "test_notifications_sent_total"), map[string]string{"status": "delivered"})
	if sent == nil || sent.GetCounter().GetValue() != 1 {
		t.Errorf("expected one sent notification, got %v", sent)
	}
	hist := findFamily(t, reg, "test_notification_duration_seconds")
	if c := hist.GetMetric()[0].GetHistogram().GetSampleCount(); c != 1 {
		t.Errorf("expected 1 duration sample, got %d", c)
	}
	failed := labelled(findFamily(t, reg, "test_notifications_failed_total"),
		map[string]string{"status": "delivered", "reason": "circuit_open"})
	if failed == nil || failed.GetCounter().GetValue() != 1 {
		t.Errorf("expected one failed notification, got %v", failed)
	}
}

func TestPrometheusMetrics_CircuitStateChanged(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.CircuitStateChanged("notifier", circuit.StateOpen)

	s := labelled(findFamily(t, reg, "test_circuit_breaker_state"), map[string]string{"service": "notifier"})
	if s == nil || s.GetGauge().GetValue() != float64(circuit.StateOpen) {
		t.Errorf("expected gauge %d, got %v", circuit.StateOpen, s)
	}

	m.CircuitStateChanged("notifier", circuit.StateClosed)
	s = labelled(findFamily(t, reg, "test_circuit_breaker_state"), map[string]string{"service": "notifier"})
	if s.GetGauge().GetValue() != 0 {
		t.Errorf("expected gauge 0 after close, got %f", s.GetGauge().GetValue())
	}
}

func TestPrometheusMetrics_Locks(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.LockAcquired(3 * time.Millisecond)
	m.LockFailed("held")

	acquired := findFamily(t, reg, "test_lock_acquired_total")
	if v := acquired.GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("expected 1 lock acquired, got %f", v)
	}
	failed := labelled(findFamily(t, reg, "test_lock_failed_total"), map[string]string{"reason": "held"})
	if failed == nil || failed.GetCounter().GetValue() != 1 {
		t.Errorf("expected one lock failure, got %v", failed)
	}
}
