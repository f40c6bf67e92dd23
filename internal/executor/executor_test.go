package executor

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

func openSession(t *testing.T, schema string) *sql.Conn {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	conn, err := db.Conn(context.Background())
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		db.Close()
	})
	if schema != "" {
		if _, err := conn.ExecContext(context.Background(), schema); err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	return conn
}

// scriptedClock advances by the next step on every reading.
type scriptedClock struct {
	now   time.Time
	steps []time.Duration
	def   time.Duration
}

func (c *scriptedClock) read() time.Time {
	step := c.def
	if len(c.steps) > 0 {
		step = c.steps[0]
		c.steps = c.steps[1:]
	}
	c.now = c.now.Add(step)
	return c.now
}

const tableT = "CREATE TABLE t(id INTEGER, v INTEGER); INSERT INTO t VALUES (1,5),(2,9),(3,12);"

func TestRunCapturesRowsAndAverages(t *testing.T) {
	conn := openSession(t, tableT)
	clock := &scriptedClock{def: 10 * time.Millisecond}
	exec := New(WithClock(clock.read))
	out := exec.Run(context.Background(), conn, "SELECT * FROM t WHERE v > 5", Options{NumRuns: 4, Timeout: time.Second})
	if !out.OK() {
		t.Fatalf("expected success, got %s: %v", out.Status, out.Err)
	}
	if out.Rows.Len() != 2 {
		t.Fatalf("rows=%d, want 2", out.Rows.Len())
	}
	if len(out.Runs) != 4 {
		t.Fatalf("runs=%d, want 4", len(out.Runs))
	}
	if out.AvgLatency != 10*time.Millisecond {
		t.Fatalf("avg=%s, want 10ms", out.AvgLatency)
	}
}

func TestRunSetupExecutesOnce(t *testing.T) {
	conn := openSession(t, tableT+"CREATE TABLE audit(n INTEGER);")
	exec := New()
	query := "CREATE INDEX idx_t_v ON t(v); INSERT INTO audit VALUES (1); SELECT COUNT(*) FROM audit"
	out := exec.Run(context.Background(), conn, query, Options{NumRuns: 5, Timeout: 5 * time.Second})
	if !out.OK() {
		t.Fatalf("expected success, got %s: %v", out.Status, out.Err)
	}
	if len(out.Plan.Setup) != 2 {
		t.Fatalf("setup=%v, want 2 statements", out.Plan.Setup)
	}
	if len(out.Runs) != 5 {
		t.Fatalf("runs=%d, want 5", len(out.Runs))
	}
	if got := out.Rows.Rows[0][0]; got != int64(1) {
		t.Fatalf("setup ran %v times, want 1", got)
	}
}

func TestRunFallbackTimesLastStatement(t *testing.T) {
	conn := openSession(t, tableT)
	query := "CREATE TEMP TABLE big AS SELECT * FROM t; WITH x AS (SELECT v FROM big) SELECT SUM(v) FROM x"
	out := New().Run(context.Background(), conn, query, Options{NumRuns: 2, Timeout: 5 * time.Second})
	if !out.OK() {
		t.Fatalf("expected success, got %s: %v", out.Status, out.Err)
	}
	if !out.Plan.Fallback {
		t.Fatalf("expected fallback plan")
	}
	if got := out.Rows.Rows[0][0]; got != int64(26) {
		t.Fatalf("sum=%v, want 26", got)
	}
}

func TestRunUnknownColumnErrors(t *testing.T) {
	conn := openSession(t, tableT)
	out := New().Run(context.Background(), conn, "SELECT missing FROM t", Options{NumRuns: 3, Timeout: time.Second})
	if out.Status != Errored {
		t.Fatalf("status=%s, want errored", out.Status)
	}
	var stmtErr *StatementError
	if !errors.As(out.Err, &stmtErr) || stmtErr.Setup {
		t.Fatalf("expected timed StatementError, got %v", out.Err)
	}
	if len(out.Runs) != 0 {
		t.Fatalf("expected no measured runs, got %d", len(out.Runs))
	}
}

func TestRunSetupErrorIsReported(t *testing.T) {
	conn := openSession(t, tableT)
	out := New().Run(context.Background(), conn, "CREATE INDEX broken ON nope(x); SELECT * FROM t", Options{NumRuns: 1, Timeout: time.Second})
	var stmtErr *StatementError
	if out.Status != Errored || !errors.As(out.Err, &stmtErr) || !stmtErr.Setup {
		t.Fatalf("expected setup StatementError, got %s: %v", out.Status, out.Err)
	}
}

func TestRunInterruptsRunawayStatement(t *testing.T) {
	conn := openSession(t, "")
	query := "WITH RECURSIVE c(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM c) SELECT COUNT(*) FROM c"
	start := time.Now()
	out := New().Run(context.Background(), conn, query, Options{NumRuns: 3, Timeout: 200 * time.Millisecond})
	if out.Status != TimedOut {
		t.Fatalf("status=%s, want timed_out (err=%v)", out.Status, out.Err)
	}
	if !errors.Is(out.Err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", out.Err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("runaway statement was not interrupted, took %s", elapsed)
	}
}

func TestRunSlowProbeStopsBeforeMeasuredRuns(t *testing.T) {
	conn := openSession(t, tableT)
	// busy pragma is not measured; probe start and end readings come first.
	clock := &scriptedClock{steps: []time.Duration{0, 3 * time.Second}, def: time.Millisecond}
	out := New(WithClock(clock.read)).Run(context.Background(), conn, "SELECT * FROM t", Options{NumRuns: 5, Timeout: time.Second})
	if out.Status != TimedOut {
		t.Fatalf("status=%s, want timed_out", out.Status)
	}
	if len(out.Runs) != 0 {
		t.Fatalf("runs=%d, want 0 after slow probe", len(out.Runs))
	}
}

func TestRunSlowMeasuredRunAborts(t *testing.T) {
	conn := openSession(t, tableT)
	steps := []time.Duration{
		0, time.Millisecond, // probe
		0, time.Millisecond, // run 1
		0, 2 * time.Second, // run 2
	}
	clock := &scriptedClock{steps: steps, def: time.Millisecond}
	out := New(WithClock(clock.read)).Run(context.Background(), conn, "SELECT * FROM t", Options{NumRuns: 5, Timeout: time.Second})
	if out.Status != TimedOut {
		t.Fatalf("status=%s, want timed_out", out.Status)
	}
	if len(out.Runs) != 1 {
		t.Fatalf("runs=%d, want 1 before abort", len(out.Runs))
	}
}

func TestRunRejectsBadOptions(t *testing.T) {
	conn := openSession(t, tableT)
	cases := []struct {
		name string
		opts Options
	}{
		{"zero runs", Options{NumRuns: 0, Timeout: time.Second}},
		{"negative timeout", Options{NumRuns: 1, Timeout: -time.Second}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := New().Run(context.Background(), conn, "SELECT 1", tc.opts)
			if out.Status != Errored || out.Err == nil {
				t.Fatalf("expected errored outcome, got %s", out.Status)
			}
		})
	}
	if out := New().Run(context.Background(), conn, "  ;; ", Options{NumRuns: 1, Timeout: time.Second}); out.Status != Errored {
		t.Fatalf("expected empty query to error, got %s", out.Status)
	}
}
