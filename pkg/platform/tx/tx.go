// Package tx carries a SQL transaction through the context.
package tx

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

const defaultTxTimeout = 5 * time.Second

// Runner runs functions inside a database transaction carried in the
// context, so every store that honours From joins it.
type Runner struct {
	db      *sql.DB
	timeout time.Duration
}

// NewRunner creates a Runner over db.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db, timeout: defaultTxTimeout}
}

// RunInTx commits when fn succeeds and rolls back otherwise. A context
// without a deadline gets the runner's timeout.
func (r *Runner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
