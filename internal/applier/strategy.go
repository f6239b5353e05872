package applier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Strategy executes the files of a run over an open connection.
type Strategy interface {
	Name() string
	// Atomic reports whether the strategy applies the plan all-or-nothing.
	Atomic() bool
	Execute(ctx context.Context, conn Conn, ex *Execution) error
}

// Atomic runs the whole plan inside one transaction. Each file's text is
// submitted unsplit as a single multi-statement batch; the backend runs
// the statements it contains in order. The first failure rolls back
// everything and later files are never submitted.
type Atomic struct{}

func (Atomic) Name() string { return "atomic" }
func (Atomic) Atomic() bool { return true }

func (Atomic) Execute(ctx context.Context, conn Conn, ex *Execution) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			ex.Logger().Error("rollback", zap.Error(rerr))
		}
		ex.Transition(StateRolledBack)
	}()

	for i := 0; i < ex.Len(); i++ {
		text, skip, err := ex.Load(i)
		if err != nil {
			ex.Failed(i, 0, err)
			return err
		}
		if skip {
			continue
		}

		ex.Transition(StateApplying)
		ex.Applying(i)
		start := time.Now()

		n := len(SplitStatements(text))
		if n > 0 {
			if _, err := tx.ExecContext(ctx, text); err != nil {
				berr := &BatchError{File: ex.Path(i), Err: err}
				ex.Failed(i, 0, berr)
				return berr
			}
		}

		ex.Applied(i, n, time.Since(start))
		ex.Transition(StateApplied)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrCommit, err)
	}
	committed = true
	ex.Transition(StateCommitted)
	return nil
}

// Split is the degraded strategy for when no transactional connection is
// available. Files are split into statements and each statement is
// submitted on its own in autocommit. It stops at the first failing
// statement; everything before it stays applied.
type Split struct{}

func (Split) Name() string { return "split" }
func (Split) Atomic() bool { return false }

func (Split) Execute(ctx context.Context, conn Conn, ex *Execution) error {
	for i := 0; i < ex.Len(); i++ {
		text, skip, err := ex.Load(i)
		if err != nil {
			ex.Failed(i, 0, err)
			ex.Transition(StateAborted)
			return err
		}
		if skip {
			continue
		}

		ex.Transition(StateApplying)
		ex.Applying(i)
		start := time.Now()

		stmts := SplitStatements(text)
		for j, stmt := range stmts {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				berr := &BatchError{File: ex.Path(i), Statement: j + 1, Err: err}
				ex.Failed(i, j, berr)
				ex.Transition(StateAborted)
				return berr
			}
		}

		ex.Applied(i, len(stmts), time.Since(start))
		ex.Transition(StateApplied)
	}

	ex.Transition(StateCommitted)
	return nil
}

// ParseStrategy maps a strategy name to its implementation.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "", "atomic":
		return Atomic{}, nil
	case "split":
		return Split{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (want atomic or split)", name)
	}
}
