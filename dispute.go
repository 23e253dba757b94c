package gar

import (
	"context"
	"time"

	"gar/event"
)

// Decision is the admin outcome of a dispute.
type Decision string

const (
	DecisionRefundFull    Decision = "refund_full"
	DecisionRefundPartial Decision = "refund_partial"
	DecisionReplacement   Decision = "replacement"
	DecisionRejected      Decision = "rejected"
)

// RefundMethodWave is the mobile-money channel used for dispute refunds.
const RefundMethodWave = "wave"

// DisputeRequest is the client claim.
type DisputeRequest struct {
	Reason      string
	Description string
	Evidence    []string
	// NotifyClient asks for an acknowledgement message.
	NotifyClient bool
}

// Resolution is the admin decision on an open dispute.
type Resolution struct {
	Decision     Decision
	Note         string
	RefundAmount int64
	AdminID      string
	NotifyClient bool
}

// target returns the status a decision leads to.
func (d Decision) target() (Status, bool) {
	switch d {
	case DecisionRefundFull, DecisionRefundPartial:
		return StatusRefunded, true
	case DecisionReplacement:
		return StatusOrderPlaced, true
	case DecisionRejected:
		return StatusCompleted, true
	default:
		return "", false
	}
}

// OpenDispute records a client claim and moves the transaction to disputed.
// The claim is only accepted once per transaction, after delivery and within
// the verification window.
func (e *Engine) OpenDispute(ctx context.Context, reference string, req DisputeRequest) (*AdvanceResult, error) {
	prepare := func(tx *Transaction, now time.Time) error {
		if tx.Dispute != nil {
			return ErrDuplicateDispute
		}
		if err := checkDisputeWindow(tx, now); err != nil {
			return err
		}
		tx.Dispute = &Dispute{
			OpenedAt:    now,
			Reason:      req.Reason,
			Description: req.Description,
			Evidence:    append([]string(nil), req.Evidence...),
		}
		return nil
	}

	res, err := e.transition(ctx, "gar.dispute.open", reference, StatusDisputed, AdvanceOptions{
		Note:         "dispute opened: " + req.Reason,
		NotifyClient: req.NotifyClient,
	}, prepare)
	if err != nil {
		return nil, err
	}

	e.metrics.DisputeOpened()
	e.publishEvent(ctx, event.NewEvent(event.EventDisputeOpened).
		WithReference(reference).
		WithStatus(string(StatusDisputed)).
		WithData("reason", req.Reason))
	return res, nil
}

// ResolveDispute applies the admin decision to the open dispute and drives
// the matching transition.
func (e *Engine) ResolveDispute(ctx context.Context, reference string, r Resolution) (*AdvanceResult, error) {
	next, ok := r.Decision.target()
	if !ok {
		return nil, ErrInvalidDecision
	}

	prepare := func(tx *Transaction, now time.Time) error {
		if tx.Dispute == nil {
			return ErrNoDispute
		}
		if tx.Dispute.Resolution != nil {
			return ErrDisputeAlreadyResolved
		}

		switch r.Decision {
		case DecisionRefundFull:
			tx.Refund = &Refund{
				Amount: tx.Amount,
				Reason: tx.Dispute.Reason,
				Method: RefundMethodWave,
			}
		case DecisionRefundPartial:
			if r.RefundAmount <= 0 || r.RefundAmount > tx.Amount {
				return ErrInvalidRefundAmount
			}
			tx.Refund = &Refund{
				Amount: r.RefundAmount,
				Reason: tx.Dispute.Reason,
				Method: RefundMethodWave,
			}
		}

		resolvedAt := now
		tx.Dispute.Resolution = &DisputeResolution{
			Decision:     r.Decision,
			Note:         r.Note,
			RefundAmount: refundAmount(tx),
			AdminID:      r.AdminID,
		}
		tx.Dispute.ResolvedAt = &resolvedAt
		return nil
	}

	note := r.Note
	if note == "" {
		note = "dispute resolved: " + string(r.Decision)
	}
	res, err := e.transition(ctx, "gar.dispute.resolve", reference, next, AdvanceOptions{
		Note:         note,
		AdminID:      r.AdminID,
		NotifyClient: r.NotifyClient,
	}, prepare)
	if err != nil {
		return nil, err
	}

	e.metrics.DisputeResolved(string(r.Decision))
	e.publishEvent(ctx, event.NewEvent(event.EventDisputeResolved).
		WithReference(reference).
		WithStatus(string(next)).
		WithData("decision", string(r.Decision)))
	return res, nil
}

func refundAmount(tx *Transaction) int64 {
	if tx.Refund == nil {
		return 0
	}
	return tx.Refund.Amount
}
