package repo

import (
	"context"
	"database/sql"
	"fmt"
)

// Queryer is satisfied by both *sql.DB and *sql.Tx so that index writes can
// join the same transaction as the parent document status change.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TxRunner runs a function inside one transaction. Services depend on this
// instead of *sql.DB so tests can substitute their own stores.
type TxRunner interface {
	RunTx(ctx context.Context, fn func(q Queryer) error) error
}

type dbRunner struct {
	db *sql.DB
}

func NewTxRunner(db *sql.DB) TxRunner {
	return &dbRunner{db: db}
}

func (r *dbRunner) RunTx(ctx context.Context, fn func(q Queryer) error) error {
	return WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(tx)
	})
}

func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
