package gar

import (
	"context"
	"time"
)

// TxStore defines the storage interface for guaranteed transactions.
// This interface is implemented by store/memory, store/mysql, store/postgres
// and store/bolt.
type TxStore interface {
	// Create inserts a new transaction. It returns ErrDuplicateReference if
	// the reference is already taken.
	Create(ctx context.Context, tx *Transaction) error

	// Get retrieves a transaction by reference or returns ErrTransactionNotFound.
	Get(ctx context.Context, reference string) (*Transaction, error)

	// Update persists tx with optimistic locking. The caller has already
	// incremented tx.Version; the stored version must equal tx.Version-1 or
	// ErrVersionConflict is returned.
	Update(ctx context.Context, tx *Transaction) error

	// Find lists transactions matching the filter, oldest first.
	Find(ctx context.Context, filter *Filter) ([]*Transaction, error)
}

// Filter selects transactions. Zero values disable a criterion.
type Filter struct {
	// Status matches any of the listed statuses.
	Status []Status

	// UserID matches the owner of the transaction.
	UserID string

	// VerificationEndsBefore matches transactions whose verification window
	// ended strictly before this instant.
	VerificationEndsBefore time.Time

	// ExcludeDisputed drops transactions that carry a dispute record,
	// resolved or not.
	ExcludeDisputed bool

	// PendingNotification keeps transactions with at least one requested but
	// undelivered notification.
	PendingNotification bool

	// Limit specifies the maximum number of results to return (0 = no limit).
	Limit int

	// Offset specifies the number of results to skip.
	Offset int
}

// NewFilter creates an empty Filter.
func NewFilter() *Filter {
	return &Filter{}
}

// WithStatus adds status filters.
func (f *Filter) WithStatus(status ...Status) *Filter {
	f.Status = append(f.Status, status...)
	return f
}

// WithUserID sets the owner filter.
func (f *Filter) WithUserID(userID string) *Filter {
	f.UserID = userID
	return f
}

// WithVerificationEndedBefore sets the elapsed-window filter.
func (f *Filter) WithVerificationEndedBefore(t time.Time) *Filter {
	f.VerificationEndsBefore = t
	return f
}

// WithoutDispute excludes transactions that ever had a dispute opened.
func (f *Filter) WithoutDispute() *Filter {
	f.ExcludeDisputed = true
	return f
}

// WithPendingNotification keeps transactions with undelivered notifications.
func (f *Filter) WithPendingNotification() *Filter {
	f.PendingNotification = true
	return f
}

// WithPagination sets pagination parameters.
func (f *Filter) WithPagination(limit, offset int) *Filter {
	f.Limit = limit
	f.Offset = offset
	return f
}

// Match evaluates the filter against tx in memory. Stores without a query
// language use it directly.
func (f *Filter) Match(tx *Transaction) bool {
	if f == nil {
		return true
	}
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if tx.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.UserID != "" && tx.UserID != f.UserID {
		return false
	}
	if !f.VerificationEndsBefore.IsZero() {
		if tx.VerificationEndsAt == nil || !tx.VerificationEndsAt.Before(f.VerificationEndsBefore) {
			return false
		}
	}
	if f.ExcludeDisputed && tx.Dispute != nil {
		return false
	}
	if f.PendingNotification && len(tx.PendingNotifications()) == 0 {
		return false
	}
	return true
}

// Page applies Offset and Limit to an already filtered slice.
func (f *Filter) Page(txs []*Transaction) []*Transaction {
	if f == nil {
		return txs
	}
	if f.Offset > 0 {
		if f.Offset >= len(txs) {
			return nil
		}
		txs = txs[f.Offset:]
	}
	if f.Limit > 0 && len(txs) > f.Limit {
		txs = txs[:f.Limit]
	}
	return txs
}
