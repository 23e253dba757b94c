package gar

import (
	"errors"
	"fmt"
)

// Transaction errors
var (
	// ErrTransactionNotFound indicates the reference does not resolve to a transaction
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidTransition indicates a status change that violates the state machine
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnknownStatus indicates a status outside the vocabulary
	ErrUnknownStatus = errors.New("unknown status")

	// ErrInvalidTransactionInput indicates creation parameters are incomplete
	ErrInvalidTransactionInput = errors.New("invalid transaction input")
)

// Reference errors
var (
	// ErrDuplicateReference indicates the store already holds the reference
	ErrDuplicateReference = errors.New("duplicate reference")

	// ErrReferenceExhausted indicates no unique reference could be allocated
	ErrReferenceExhausted = errors.New("cannot allocate unique reference")
)

// Dispute errors
var (
	// ErrDeliveryNotRecorded indicates a dispute was requested before delivery
	ErrDeliveryNotRecorded = errors.New("dispute requires a recorded delivery")

	// ErrDisputeWindowExpired indicates the verification window has elapsed
	ErrDisputeWindowExpired = errors.New("dispute window expired")

	// ErrDuplicateDispute indicates the transaction already carries a dispute
	ErrDuplicateDispute = errors.New("dispute already exists")

	// ErrNoDispute indicates the transaction has no dispute to resolve
	ErrNoDispute = errors.New("no dispute to resolve")

	// ErrDisputeAlreadyResolved indicates the dispute has a resolution
	ErrDisputeAlreadyResolved = errors.New("dispute already resolved")

	// ErrInvalidDecision indicates an unknown dispute decision
	ErrInvalidDecision = errors.New("invalid dispute decision")

	// ErrInvalidRefundAmount indicates a refund outside (0, amount]
	ErrInvalidRefundAmount = errors.New("invalid refund amount")
)

// Store errors
var (
	// ErrVersionConflict indicates a concurrent writer updated the transaction first
	ErrVersionConflict = errors.New("version conflict")

	// ErrStoreOperationFailed indicates a store operation failed
	ErrStoreOperationFailed = errors.New("store operation failed")
)

// Infrastructure errors
var (
	// ErrLockAcquisitionFailed indicates lock acquisition failed
	ErrLockAcquisitionFailed = errors.New("lock acquisition failed")

	// ErrLockNotHeld indicates the lock is not held
	ErrLockNotHeld = errors.New("lock not held")

	// ErrCircuitOpen indicates the circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrInvalidConfig indicates the configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")
)

// TransitionError carries the statuses involved in a rejected transition.
type TransitionError struct {
	Previous Status
	Next     Status
	Err      error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", e.Err, e.Previous, e.Next)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}
