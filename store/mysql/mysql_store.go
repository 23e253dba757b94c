// Package mysql provides a MySQL implementation of the gar.TxStore interface.
package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"gar"
	"gar/store"
)

// Schema creates the gar_transactions table.
//
//go:embed schema.sql
var Schema string

// Ensure MySQLStore implements gar.TxStore interface.
var _ gar.TxStore = (*MySQLStore)(nil)

var columnList = strings.Join(store.Columns, ", ")

// MySQLStore implements the gar.TxStore interface using MySQL.
type MySQLStore struct {
	db *sql.DB
}

// New creates a new MySQLStore with the given database connection.
func New(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Open connects to dsn with the MySQL driver. parseTime is forced on.
func Open(dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(3 * time.Minute)
	return New(db), nil
}

// Migrate applies Schema.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("%w: migrate: %v", gar.ErrStoreOperationFailed, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// Create inserts a new transaction row.
func (s *MySQLStore) Create(ctx context.Context, tx *gar.Transaction) error {
	row, err := store.ToRow(tx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO gar_transactions (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, columnList)
	if _, err := s.db.ExecContext(ctx, query, row.Args()...); err != nil {
		if isDuplicateKeyError(err) {
			return gar.ErrDuplicateReference
		}
		return fmt.Errorf("%w: create transaction: %v", gar.ErrStoreOperationFailed, err)
	}
	return nil
}

// Get retrieves a transaction by reference.
func (s *MySQLStore) Get(ctx context.Context, reference string) (*gar.Transaction, error) {
	query := `SELECT reference, document, version FROM gar_transactions WHERE reference = ?`

	var row store.Row
	err := s.db.QueryRowContext(ctx, query, reference).Scan(&row.Reference, &row.Document, &row.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gar.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("%w: get transaction: %v", gar.ErrStoreOperationFailed, err)
	}
	return row.Transaction()
}

// Update persists tx with optimistic locking.
// The caller is expected to have already incremented the version.
func (s *MySQLStore) Update(ctx context.Context, tx *gar.Transaction) error {
	row, err := store.ToRow(tx)
	if err != nil {
		return err
	}

	query := `
		UPDATE gar_transactions SET
			user_id = ?, status = ?, amount = ?, currency = ?,
			verification_ends_at = ?, disputed = ?, pending_notify = ?,
			document = ?, version = ?, updated_at = ?
		WHERE reference = ? AND version = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		row.UserID, row.Status, row.Amount, row.Currency,
		row.VerificationEndsAt, row.Disputed, row.PendingNotify,
		row.Document, row.Version, row.UpdatedAt,
		row.Reference, row.Version-1,
	)
	if err != nil {
		return fmt.Errorf("%w: update transaction: %v", gar.ErrStoreOperationFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		exists, err := s.exists(ctx, row.Reference)
		if err != nil {
			return err
		}
		if !exists {
			return gar.ErrTransactionNotFound
		}
		return gar.ErrVersionConflict
	}
	return nil
}

// Find lists transactions matching filter, oldest first.
func (s *MySQLStore) Find(ctx context.Context, filter *gar.Filter) ([]*gar.Transaction, error) {
	where, args := store.Where(filter, store.Question)

	query := fmt.Sprintf(`SELECT reference, document, version FROM gar_transactions %s ORDER BY created_at ASC, reference ASC`, where)
	offsetInSQL := false
	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
		offsetInSQL = true
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: find transactions: %v", gar.ErrStoreOperationFailed, err)
	}
	defer rows.Close()

	var txs []*gar.Transaction
	for rows.Next() {
		var row store.Row
		if err := rows.Scan(&row.Reference, &row.Document, &row.Version); err != nil {
			return nil, fmt.Errorf("%w: scan transaction: %v", gar.ErrStoreOperationFailed, err)
		}
		tx, err := row.Transaction()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate transactions: %v", gar.ErrStoreOperationFailed, err)
	}

	if !offsetInSQL && filter != nil {
		txs = filter.Page(txs)
	}
	return txs, nil
}

func (s *MySQLStore) exists(ctx context.Context, reference string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM gar_transactions WHERE reference = ?", reference).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: check transaction exists: %v", gar.ErrStoreOperationFailed, err)
	}
	return count > 0, nil
}

// isDuplicateKeyError checks if the error is a MySQL duplicate key error.
func isDuplicateKeyError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "Duplicate entry")
}
