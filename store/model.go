// Package store holds the row model shared by the SQL-backed TxStore
// implementations.
package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gar"
)

// Row is the relational projection of a transaction. Document carries the
// full transaction as JSON; the other columns are derived from it so that
// Find can filter in SQL.
type Row struct {
	Reference          string     `db:"reference"`
	UserID             string     `db:"user_id"`
	Status             string     `db:"status"`
	Amount             int64      `db:"amount"`
	Currency           string     `db:"currency"`
	VerificationEndsAt *time.Time `db:"verification_ends_at"`
	Disputed           bool       `db:"disputed"`
	PendingNotify      bool       `db:"pending_notify"`
	Document           []byte     `db:"document"`
	Version            int        `db:"version"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

// Columns lists the column names in the order used by inserts and selects.
var Columns = []string{
	"reference", "user_id", "status", "amount", "currency",
	"verification_ends_at", "disputed", "pending_notify", "document",
	"version", "created_at", "updated_at",
}

// ToRow projects tx into a Row.
func ToRow(tx *gar.Transaction) (*Row, error) {
	doc, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return &Row{
		Reference:          tx.Reference,
		UserID:             tx.UserID,
		Status:             string(tx.Status),
		Amount:             tx.Amount,
		Currency:           tx.Currency,
		VerificationEndsAt: tx.VerificationEndsAt,
		Disputed:           tx.Dispute != nil,
		PendingNotify:      len(tx.PendingNotifications()) > 0,
		Document:           doc,
		Version:            tx.Version,
		CreatedAt:          tx.CreatedAt,
		UpdatedAt:          tx.UpdatedAt,
	}, nil
}

// Transaction decodes the document. The version column is authoritative.
func (r *Row) Transaction() (*gar.Transaction, error) {
	tx := &gar.Transaction{}
	if err := json.Unmarshal(r.Document, tx); err != nil {
		return nil, fmt.Errorf("unmarshal document %s: %w", r.Reference, err)
	}
	tx.Version = r.Version
	return tx, nil
}

// Args returns the column values in Columns order.
func (r *Row) Args() []any {
	return []any{
		r.Reference, r.UserID, r.Status, r.Amount, r.Currency,
		r.VerificationEndsAt, r.Disputed, r.PendingNotify, r.Document,
		r.Version, r.CreatedAt, r.UpdatedAt,
	}
}

// Placeholder renders the n-th (1-based) bind parameter.
type Placeholder func(n int) string

// Question renders MySQL-style placeholders.
func Question(int) string { return "?" }

// Dollar renders PostgreSQL-style placeholders.
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// Where translates a Filter into a WHERE clause and its arguments. Argument
// numbering starts at 1. Pagination is left to the caller.
func Where(f *gar.Filter, ph Placeholder) (string, []any) {
	if f == nil {
		return "", nil
	}

	var (
		conditions []string
		args       []any
	)
	next := func(v any) string {
		args = append(args, v)
		return ph(len(args))
	}

	if len(f.Status) > 0 {
		placeholders := make([]string, len(f.Status))
		for i, s := range f.Status {
			placeholders[i] = next(string(s))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if f.UserID != "" {
		conditions = append(conditions, "user_id = "+next(f.UserID))
	}
	if !f.VerificationEndsBefore.IsZero() {
		conditions = append(conditions, "verification_ends_at IS NOT NULL AND verification_ends_at < "+next(f.VerificationEndsBefore))
	}
	if f.ExcludeDisputed {
		conditions = append(conditions, "disputed = "+next(false))
	}
	if f.PendingNotification {
		conditions = append(conditions, "pending_notify = "+next(true))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}
