package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the query yields no row.
var ErrNotFound = errors.New("database: record not found")

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps a pool (or a transaction) with the three primitives every
// repository uses: Query, Execute and Get.
type Store struct {
	db *sql.DB
	q  Querier
}

// NewStore wraps a connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// DB exposes the underlying pool. Nil inside a transaction.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Query runs a SELECT and calls scan once per row.
func (s *Store) Query(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Execute runs an INSERT/UPDATE/DELETE.
func (s *Store) Execute(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, query, args...)
}

// Get scans the first row of the result into dest.
func (s *Store) Get(ctx context.Context, query string, args []any, dest ...any) error {
	err := s.q.QueryRowContext(ctx, query, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Tx runs fn inside a transaction. The Store handed to fn issues every
// statement on the transaction; nested calls reuse it.
func (s *Store) Tx(ctx context.Context, fn func(tx *Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if err := fn(&Store{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Select collects every row of a query through scan.
func Select[T any](ctx context.Context, s *Store, query string, args []any, scan func(*sql.Rows) (T, error)) ([]T, error) {
	out := []T{}
	err := s.Query(ctx, query, args, func(rows *sql.Rows) error {
		item, err := scan(rows)
		if err != nil {
			return err
		}
		out = append(out, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Placeholders returns "?, ?, ?" for n arguments.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}
