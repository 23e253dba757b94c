package gar_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gar"
	"gar/store/memory"
	"gar/sweeper"
)

func TestScenario_HappyPath(t *testing.T) {
	clock := newTestClock()
	e := newTestEngine(memory.New(), clock)
	ctx := context.Background()

	tx, err := e.Create(ctx, gar.CreateParams{
		Amount:   50000,
		Currency: "XOF",
		UserID:   "user-1",
		Client:   gar.ClientSnapshot{Name: "Moussa Diop", Phone: "+221771112233"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	clock.Advance(time.Hour)
	paid := advance(t, e, tx.Reference, gar.StatusPaymentReceived)
	if paid.PaidAmount != 50000 {
		t.Errorf("PaidAmount = %d, want 50000", paid.PaidAmount)
	}

	clock.Advance(72 * time.Hour)
	delivered := advance(t, e, tx.Reference, gar.StatusDelivered)
	if delivered.DeliveredAt == nil {
		t.Fatal("DeliveredAt not set")
	}
	if !delivered.VerificationEndsAt.Equal(delivered.DeliveredAt.Add(48 * time.Hour)) {
		t.Errorf("VerificationEndsAt = %v, want DeliveredAt+48h", delivered.VerificationEndsAt)
	}

	w := sweeper.NewWorker(sweeper.WithEngine(e), sweeper.WithLogger(nopLogger{}))

	clock.Advance(47 * time.Hour)
	if report := w.ScanOnce(ctx); len(report.Completed) != 0 {
		t.Fatalf("sweep completed %v inside the window", report.Completed)
	}

	clock.Advance(2 * time.Hour)
	report := w.ScanOnce(ctx)
	if len(report.Completed) != 1 || report.Completed[0] != tx.Reference {
		t.Fatalf("sweep report %+v", report)
	}

	final, _ := e.Get(ctx, tx.Reference)
	if final.Status != gar.StatusCompleted || final.CompletedAt == nil {
		t.Errorf("status=%s completedAt=%v", final.Status, final.CompletedAt)
	}
	if len(final.Timeline) != 4 {
		t.Errorf("timeline has %d entries, want 4", len(final.Timeline))
	}
	if final.LastEvent().Note != gar.AutoCompleteNote {
		t.Errorf("completion note = %q", final.LastEvent().Note)
	}
}

func TestScenario_DisputeAndFullRefund(t *testing.T) {
	clock := newTestClock()
	e := newTestEngine(memory.New(), clock)
	ctx := context.Background()
	ref := deliveredAt(t, e, "")

	clock.Advance(24 * time.Hour)
	openDispute(t, e, ref)

	res, err := e.ResolveDispute(ctx, ref, gar.Resolution{Decision: gar.DecisionRefundFull, Note: "refund approved"})
	if err != nil {
		t.Fatalf("ResolveDispute failed: %v", err)
	}
	if res.Transaction.Refund.Amount != res.Transaction.Amount || res.Transaction.Status != gar.StatusRefunded {
		t.Errorf("refund=%+v status=%s", res.Transaction.Refund, res.Transaction.Status)
	}

	_, err = e.Advance(ctx, ref, gar.StatusCompleted, gar.AdvanceOptions{})
	if !errors.Is(err, gar.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	// the sweep never touches a disputed transaction
	clock.Advance(72 * time.Hour)
	w := sweeper.NewWorker(sweeper.WithEngine(e), sweeper.WithLogger(nopLogger{}))
	if report := w.ScanOnce(ctx); report.Scanned != 0 {
		t.Errorf("sweep scanned %d transactions", report.Scanned)
	}
}

func TestScenario_RejectedBackwardMove(t *testing.T) {
	e := newTestEngine(memory.New(), newTestClock())
	ctx := context.Background()
	tx, _ := e.Create(ctx, params(""))
	advance(t, e, tx.Reference, gar.StatusInTransit)

	_, err := e.Advance(ctx, tx.Reference, gar.StatusPaymentReceived, gar.AdvanceOptions{})
	if !errors.Is(err, gar.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}
