package gar

import (
	"time"
)

// Status represents the lifecycle state of a guaranteed transaction
type Status string

const (
	// StatusPendingPayment indicates the transaction waits for the customer payment
	StatusPendingPayment Status = "pending_payment"
	// StatusPaymentReceived indicates the payment was confirmed
	StatusPaymentReceived Status = "payment_received"
	// StatusFundsSecured indicates the funds are held by the platform
	StatusFundsSecured Status = "funds_secured"
	// StatusOrderPlaced indicates the order was placed with the supplier
	StatusOrderPlaced Status = "order_placed"
	// StatusOrderConfirmed indicates the supplier confirmed the order
	StatusOrderConfirmed Status = "order_confirmed"
	// StatusInTransit indicates the merchandise is being shipped
	StatusInTransit Status = "in_transit"
	// StatusDelivered indicates the merchandise reached the client
	StatusDelivered Status = "delivered"
	// StatusVerification indicates the client is verifying the merchandise
	StatusVerification Status = "verification"
	// StatusCompleted indicates the sale is final
	StatusCompleted Status = "completed"
	// StatusDisputed indicates the client opened a claim
	StatusDisputed Status = "disputed"
	// StatusRefunded indicates the client was refunded
	StatusRefunded Status = "refunded"
	// StatusCancelled indicates the transaction was cancelled
	StatusCancelled Status = "cancelled"
)

// mainFlow is the ordered forward path of a guaranteed purchase.
var mainFlow = []Status{
	StatusPendingPayment,
	StatusPaymentReceived,
	StatusFundsSecured,
	StatusOrderPlaced,
	StatusOrderConfirmed,
	StatusInTransit,
	StatusDelivered,
	StatusVerification,
	StatusCompleted,
}

// AllStatuses lists the full status vocabulary.
var AllStatuses = []Status{
	StatusPendingPayment,
	StatusPaymentReceived,
	StatusFundsSecured,
	StatusOrderPlaced,
	StatusOrderConfirmed,
	StatusInTransit,
	StatusDelivered,
	StatusVerification,
	StatusCompleted,
	StatusDisputed,
	StatusRefunded,
	StatusCancelled,
}

// String returns the wire representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid reports whether s belongs to the status vocabulary.
func (s Status) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal returns true for absorbing states (no further transitions).
func (s Status) IsTerminal() bool {
	return s == StatusRefunded || s == StatusCancelled
}

// FlowIndex returns the position of s on the main flow, or -1 for side states.
func (s Status) FlowIndex() int {
	for i, step := range mainFlow {
		if step == s {
			return i
		}
	}
	return -1
}

// MainFlow returns a copy of the ordered main flow.
func MainFlow() []Status {
	out := make([]Status, len(mainFlow))
	copy(out, mainFlow)
	return out
}

// CanTransition applies the status-only rules of the state machine.
// Dispute entry is allowed here; its time and delivery preconditions need
// the aggregate and are checked by ValidateTransition.
func CanTransition(previous, next Status) bool {
	if !previous.IsValid() || !next.IsValid() {
		return false
	}
	if previous == next {
		return true
	}
	if previous.IsTerminal() {
		return false
	}
	if previous == StatusCompleted && (next == StatusCancelled || next == StatusDisputed) {
		return false
	}
	prevIdx, nextIdx := previous.FlowIndex(), next.FlowIndex()
	if prevIdx >= 0 && nextIdx >= 0 {
		return nextIdx >= prevIdx
	}
	return true
}

// ValidateTransition checks a move of tx to next at time now and returns a
// domain error describing the first violated rule.
func ValidateTransition(tx *Transaction, next Status, now time.Time) error {
	previous := tx.Status
	if !next.IsValid() {
		return &TransitionError{Previous: previous, Next: next, Err: ErrUnknownStatus}
	}
	if !CanTransition(previous, next) {
		return &TransitionError{Previous: previous, Next: next, Err: ErrInvalidTransition}
	}
	if next == StatusDisputed && previous != StatusDisputed {
		return checkDisputeWindow(tx, now)
	}
	return nil
}

// checkDisputeWindow enforces the delivery and claim-window preconditions.
func checkDisputeWindow(tx *Transaction, now time.Time) error {
	if tx.DeliveredAt == nil {
		return ErrDeliveryNotRecorded
	}
	if tx.VerificationEndsAt != nil && now.After(*tx.VerificationEndsAt) {
		return ErrDisputeWindowExpired
	}
	return nil
}
