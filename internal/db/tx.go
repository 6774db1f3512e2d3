package db

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql used by the repositories.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxFunc is a unit of work executed with a transactional handle.
type TxFunc func(ctx context.Context, q DBTX) error

// WithTx begins a transaction, runs fn with it, then commits on success or
// rolls back on error or panic. Panics are rethrown after the rollback.
//
//	err := db.WithTx(ctx, pool, nil, func(ctx context.Context, q db.DBTX) error {
//	    _, err := q.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
func WithTx(ctx context.Context, pool *sql.DB, opts *sql.TxOptions, fn TxFunc) (err error) {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// Transactor hands out the shared pool for single statements and scopes
// multi-statement work in a transaction.
type Transactor struct {
	pool *sql.DB
}

func NewTransactor(pool *sql.DB) *Transactor {
	return &Transactor{pool: pool}
}

// Conn returns the non-transactional handle.
func (t *Transactor) Conn() DBTX {
	return t.pool
}

// WithTx runs fn inside a read-committed transaction.
func (t *Transactor) WithTx(ctx context.Context, fn TxFunc) error {
	return WithTx(ctx, t.pool, nil, fn)
}
