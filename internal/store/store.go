package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: not found")
	// ErrStalePrice is returned when a conditional price bump matched no row,
	// meaning the auction changed under the caller.
	ErrStalePrice = errors.New("store: current price changed since read")
)

// Every store call carries a deadline; callers without one get this default.
const callTimeout = 2 * time.Second

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so the same query
// methods run inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries bundles all SQL operations against a single DBTX.
type Queries struct {
	db DBTX
}

// Store is the transactional boundary over the relational store. It embeds
// pool-bound Queries for single-statement operations and runs multi-statement
// mutations through WithTx.
type Store struct {
	pool *pgxpool.Pool
	*Queries
}

// New creates a Store over an established connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:    pool,
		Queries: &Queries{db: pool},
	}
}

// WithTx executes fn inside a transaction. If fn returns an error the
// transaction rolls back, else it commits.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Queries{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, callTimeout)
}
