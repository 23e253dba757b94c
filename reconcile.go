package gar

import (
	"context"
	"errors"
	"time"

	"gar/event"
)

// AutoCompleteNote is the timeline note written by the reconciliation sweep.
const AutoCompleteNote = "auto-completed after verification window"

// ErrNotEligible indicates the transaction no longer qualifies for
// auto-completion, usually because it changed since it was selected.
var ErrNotEligible = errors.New("transaction not eligible for auto-completion")

// SweepFilter selects the auto-completion candidates at now.
func SweepFilter(now time.Time, limit int) *Filter {
	return NewFilter().
		WithStatus(StatusDelivered, StatusVerification).
		WithVerificationEndedBefore(now).
		WithoutDispute().
		WithPagination(limit, 0)
}

// EligibleForAutoCompletion reports whether tx's verification window lapsed
// without a dispute.
func EligibleForAutoCompletion(tx *Transaction, now time.Time) bool {
	return SweepFilter(now, 0).Match(tx)
}

// CompleteVerified advances a delivered transaction whose verification window
// elapsed to completed. Eligibility is re-checked on the freshly loaded
// state, so a dispute opened after selection wins.
func (e *Engine) CompleteVerified(ctx context.Context, reference string) (*AdvanceResult, error) {
	var notify bool
	guard := func(tx *Transaction, now time.Time) error {
		if !EligibleForAutoCompletion(tx, now) {
			return ErrNotEligible
		}
		notify = tx.HasClientEmail()
		return nil
	}

	res, err := e.transition(ctx, "gar.sweep.complete", reference, StatusCompleted, AdvanceOptions{
		Note:         AutoCompleteNote,
		NotifyClient: true,
	}, guard)
	if err != nil {
		return nil, err
	}

	e.publishEvent(ctx, event.NewEvent(event.EventAutoCompleted).
		WithReference(reference).
		WithStatus(string(StatusCompleted)).
		WithData("notified", notify))
	return res, nil
}
