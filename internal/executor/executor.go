// Package executor runs a query's setup statements once and benchmarks its
// timed statement under a hard wall-clock budget.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"quill/internal/resultset"
	"quill/internal/sequence"
	"quill/internal/util"

	"github.com/pkg/errors"
)

// ErrTimedOut marks a run that exceeded the timeout.
var ErrTimedOut = errors.New("statement timed out")

// StatementError wraps an engine error with the statement that caused it.
type StatementError struct {
	Stmt  string
	Setup bool
	Err   error
}

func (e *StatementError) Error() string {
	role := "timed"
	if e.Setup {
		role = "setup"
	}
	return fmt.Sprintf("%s statement failed: %v [%s]", role, e.Err, abbreviate(e.Stmt, 120))
}

// Unwrap returns the engine error.
func (e *StatementError) Unwrap() error {
	return e.Err
}

// Status is the terminal state of one query execution.
type Status int

const (
	// Succeeded means every run finished within the budget.
	Succeeded Status = iota
	// TimedOut means the probe or a measured run exceeded the budget.
	TimedOut
	// Errored means the engine rejected a statement.
	Errored
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case TimedOut:
		return "timed_out"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Outcome is the result of Run.
type Outcome struct {
	Status Status
	// Rows is captured from the probe run.
	Rows resultset.Set
	// AvgLatency is the mean of Runs.
	AvgLatency time.Duration
	Runs       []time.Duration
	Plan       sequence.Plan
	Err        error
}

// OK reports whether the execution succeeded.
func (o Outcome) OK() bool {
	return o.Status == Succeeded
}

// Session is the subset of *sql.Conn the executor needs.
type Session interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Options bounds one execution.
type Options struct {
	NumRuns int
	Timeout time.Duration
}

// Executor measures statements. The zero value is not usable; use New.
type Executor struct {
	now func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces the wall clock used to measure runs.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// New builds an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes query against sess: setup statements once, then the timed
// statement once as a probe that captures rows, then NumRuns measured
// times. Engine errors are reported through the Outcome, never returned.
func (e *Executor) Run(ctx context.Context, sess Session, query string, opts Options) Outcome {
	if opts.NumRuns < 1 {
		return Outcome{Status: Errored, Err: errors.Errorf("num_runs must be >= 1, got %d", opts.NumRuns)}
	}
	if opts.Timeout <= 0 {
		return Outcome{Status: Errored, Err: errors.Errorf("timeout must be positive, got %s", opts.Timeout)}
	}
	plan, err := sequence.Build(query)
	if err != nil {
		return Outcome{Status: Errored, Err: err}
	}
	out := Outcome{Plan: plan}
	if len(plan.Ignored) > 0 {
		util.Detailf("ignoring %d extra read statement(s) after the timed one", len(plan.Ignored))
	}

	busy := fmt.Sprintf("PRAGMA busy_timeout = %d", opts.Timeout.Milliseconds())
	if _, err := sess.ExecContext(ctx, busy); err != nil {
		return out.fail(Errored, errors.Wrap(err, "set busy timeout"))
	}

	for _, stmt := range plan.Setup {
		if _, err := e.measure(ctx, opts.Timeout, func(runCtx context.Context) error {
			_, err := sess.ExecContext(runCtx, stmt)
			return err
		}); err != nil {
			return out.fail(classify(ctx, err), wrapStatement(stmt, true, err))
		}
	}

	var rows resultset.Set
	if _, err := e.measure(ctx, opts.Timeout, func(runCtx context.Context) error {
		var err error
		rows, err = queryAll(runCtx, sess, plan.Timed)
		return err
	}); err != nil {
		return out.fail(classify(ctx, err), wrapStatement(plan.Timed, false, err))
	}
	out.Rows = rows

	var total time.Duration
	for i := 0; i < opts.NumRuns; i++ {
		elapsed, err := e.measure(ctx, opts.Timeout, func(runCtx context.Context) error {
			return drain(runCtx, sess, plan.Timed)
		})
		if err != nil {
			return out.fail(classify(ctx, err), wrapStatement(plan.Timed, false, err))
		}
		out.Runs = append(out.Runs, elapsed)
		total += elapsed
	}
	out.AvgLatency = total / time.Duration(opts.NumRuns)
	out.Status = Succeeded
	return out
}

func (o Outcome) fail(status Status, err error) Outcome {
	o.Status = status
	o.Err = err
	util.Detailf("execution %s: %v", status, err)
	return o
}

// measure runs fn under a deadline and reports its wall time. A run that
// returns after the budget counts as timed out even if it succeeded.
func (e *Executor) measure(ctx context.Context, timeout time.Duration, fn func(context.Context) error) (time.Duration, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := e.now()
	err := fn(runCtx)
	elapsed := e.now().Sub(start)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return elapsed, errors.Wrapf(ErrTimedOut, "after %s: %v", elapsed.Round(time.Millisecond), err)
		}
		return elapsed, err
	}
	if elapsed > timeout {
		return elapsed, errors.Wrapf(ErrTimedOut, "took %s, budget %s", elapsed.Round(time.Millisecond), timeout)
	}
	return elapsed, nil
}

func classify(ctx context.Context, err error) Status {
	if errors.Is(err, ErrTimedOut) && ctx.Err() == nil {
		return TimedOut
	}
	return Errored
}

func wrapStatement(stmt string, setup bool, err error) error {
	if errors.Is(err, ErrTimedOut) {
		return err
	}
	return &StatementError{Stmt: stmt, Setup: setup, Err: err}
}

func queryAll(ctx context.Context, sess Session, stmt string) (resultset.Set, error) {
	rows, err := sess.QueryContext(ctx, stmt)
	if err != nil {
		return resultset.Set{}, err
	}
	defer util.CloseWithErr(rows, "probe rows")
	return resultset.Scan(rows)
}

// drain fetches every row and discards it.
func drain(ctx context.Context, sess Session, stmt string) error {
	rows, err := sess.QueryContext(ctx, stmt)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(rows, "timed rows")
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	dest := make([]any, len(cols))
	holders := make([]any, len(cols))
	for i := range holders {
		dest[i] = &holders[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return err
		}
	}
	return rows.Err()
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
