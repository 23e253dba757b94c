// Package postgres provides a PostgreSQL implementation of the gar.TxStore
// interface on top of pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gar"
	"gar/store"
)

// Schema creates the gar_transactions table.
//
//go:embed schema.sql
var Schema string

var _ gar.TxStore = (*PostgresStore)(nil)

// DB is the subset of *pgxpool.Pool used by the store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements gar.TxStore using PostgreSQL.
type PostgresStore struct {
	db DB
}

// New creates a PostgresStore on db.
func New(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a pgx pool on dsn.
func Connect(ctx context.Context, dsn string) (*PostgresStore, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool), pool, nil
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("%w: migrate: %v", gar.ErrStoreOperationFailed, err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, tx *gar.Transaction) error {
	row, err := store.ToRow(tx)
	if err != nil {
		return err
	}

	placeholders := make([]string, len(store.Columns))
	for i := range placeholders {
		placeholders[i] = store.Dollar(i + 1)
	}
	query := fmt.Sprintf(`INSERT INTO gar_transactions (%s) VALUES (%s)`,
		strings.Join(store.Columns, ", "), strings.Join(placeholders, ", "))

	if _, err := s.db.Exec(ctx, query, row.Args()...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return gar.ErrDuplicateReference
		}
		return fmt.Errorf("%w: create transaction: %v", gar.ErrStoreOperationFailed, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, reference string) (*gar.Transaction, error) {
	var row store.Row
	err := s.db.QueryRow(ctx,
		`SELECT reference, document, version FROM gar_transactions WHERE reference = $1`, reference,
	).Scan(&row.Reference, &row.Document, &row.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, gar.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("%w: get transaction: %v", gar.ErrStoreOperationFailed, err)
	}
	return row.Transaction()
}

// Update compares and swaps on the version column.
func (s *PostgresStore) Update(ctx context.Context, tx *gar.Transaction) error {
	row, err := store.ToRow(tx)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE gar_transactions SET
			user_id = $1, status = $2, amount = $3, currency = $4,
			verification_ends_at = $5, disputed = $6, pending_notify = $7,
			document = $8, version = $9, updated_at = $10
		WHERE reference = $11 AND version = $12
	`,
		row.UserID, row.Status, row.Amount, row.Currency,
		row.VerificationEndsAt, row.Disputed, row.PendingNotify,
		row.Document, row.Version, row.UpdatedAt,
		row.Reference, row.Version-1,
	)
	if err != nil {
		return fmt.Errorf("%w: update transaction: %v", gar.ErrStoreOperationFailed, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM gar_transactions WHERE reference = $1)`, row.Reference,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: check transaction exists: %v", gar.ErrStoreOperationFailed, err)
	}
	if !exists {
		return gar.ErrTransactionNotFound
	}
	return gar.ErrVersionConflict
}

func (s *PostgresStore) Find(ctx context.Context, filter *gar.Filter) ([]*gar.Transaction, error) {
	where, args := store.Where(filter, store.Dollar)

	query := fmt.Sprintf(`SELECT reference, document, version FROM gar_transactions %s ORDER BY created_at ASC, reference ASC`, where)
	if filter != nil && filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %s", store.Dollar(len(args)+1))
		args = append(args, filter.Limit)
	}
	if filter != nil && filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %s", store.Dollar(len(args)+1))
		args = append(args, filter.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
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
	return txs, nil
}
