// Package tx runs database/sql transactions with a default deadline and
// nested savepoint scopes.
package tx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dErrors "venuepass/pkg/domain-errors"
)

// DefaultTimeout bounds a transaction when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// Runner opens transactions on a *sql.DB.
type Runner struct {
	db      *sql.DB
	timeout time.Duration
}

// NewRunner builds a Runner. A non-positive timeout selects DefaultTimeout.
func NewRunner(db *sql.DB, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{db: db, timeout: timeout}
}

// Run executes fn inside a transaction. The transaction commits only when fn
// returns nil and the context is still live; otherwise it rolls back.
func (r *Runner) Run(ctx context.Context, fn func(*sql.Tx) error) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction timed out")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Savepoints opens named savepoints on one transaction. Not safe for
// concurrent use; a transaction is driven by one goroutine.
type Savepoints struct {
	tx  *sql.Tx
	seq int
}

// NewSavepoints binds a savepoint scope to tx.
func NewSavepoints(tx *sql.Tx) *Savepoints {
	return &Savepoints{tx: tx}
}

// Savepoint runs fn inside a savepoint. When fn fails its writes are rolled
// back to the savepoint and the enclosing transaction stays usable.
func (s *Savepoints) Savepoint(ctx context.Context, fn func() error) error {
	s.seq++
	name := fmt.Sprintf("sp_%d", s.seq)
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("open savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := s.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback savepoint: %w", rbErr))
		}
		return err
	}
	if _, err := s.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}
