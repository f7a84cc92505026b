package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by a pooled connection and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var (
	_ Querier = (*pgxpool.Conn)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// ErrNoTransaction is returned by Commit and Rollback when no transaction is open.
var ErrNoTransaction = errors.New("no transaction open")

// Scope pins one pooled connection for a unit of work and tracks at most one
// open transaction on it. Repositories read the scope from the context, so
// statements issued while a transaction is open join it.
type Scope struct {
	Conn *pgxpool.Conn
	tx   pgx.Tx
}

// Acquire takes a connection from the pool.
// The returned Scope MUST be closed with defer scope.Close().
func (db *DB) Acquire(ctx context.Context) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Scope{Conn: conn}, nil
}

// Querier returns the open transaction, or the bare connection when none is open.
func (s *Scope) Querier() Querier {
	if s.tx != nil {
		return s.tx
	}
	return s.Conn
}

// InTx reports whether a transaction is open.
func (s *Scope) InTx() bool {
	return s.tx != nil
}

// Begin opens a transaction. Nested calls are rejected.
func (s *Scope) Begin(ctx context.Context) error {
	if s.tx != nil {
		return errors.New("transaction already open")
	}
	tx, err := s.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the open transaction.
func (s *Scope) Commit(ctx context.Context) error {
	if s.tx == nil {
		return ErrNoTransaction
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the open transaction. It is a no-op when none is open.
func (s *Scope) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

// Close rolls back any open transaction and releases the connection.
func (s *Scope) Close() {
	if s.Conn == nil {
		return
	}
	if s.tx != nil {
		_ = s.Rollback(context.Background())
	}
	s.Conn.Release()
	s.Conn = nil
}
