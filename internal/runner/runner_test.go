package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"quill/internal/cases"
	"quill/internal/config"
	"quill/internal/evaluator"
	"quill/internal/executor"
	"quill/internal/judge"
	"quill/internal/report"
)

type fakeUploader struct {
	mu    sync.Mutex
	dirs  []string
	files []string
}

func (f *fakeUploader) Enabled() bool { return true }

func (f *fakeUploader) UploadDir(_ context.Context, dir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = append(f.dirs, dir)
	return "mem://" + filepath.Base(dir), nil
}

func (f *fakeUploader) UploadFile(_ context.Context, path, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, name)
	return "mem://" + name, nil
}

const testSchema = "CREATE TABLE t(id INTEGER PRIMARY KEY, v INTEGER); INSERT INTO t VALUES (1, 10), (2, 20), (3, 30);"

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		NumRuns:         2,
		TimeoutSeconds:  5,
		RewardThreshold: 0.5,
		InMemory:        true,
		Report:          config.ReportConfig{OutputDir: t.TempDir()},
	}
}

// frozenEvaluator measures every run as zero so identical queries score a
// speedup of exactly 1.
func frozenEvaluator(opts ...evaluator.Option) *evaluator.Evaluator {
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	x := executor.New(executor.WithClock(func() time.Time { return fixed }))
	opts = append(opts, evaluator.WithExecutor(x))
	return evaluator.New(evaluator.Config{InMemory: true, NumRuns: 2, Timeout: 5 * time.Second}, opts...)
}

func testCases() []cases.Case {
	return []cases.Case{
		{ID: "same", Schema: testSchema, OriginalQuery: "SELECT v FROM t", OptimizedQuery: "SELECT v FROM t", Explanation: "identity"},
		{ID: "mismatch", Schema: testSchema, OriginalQuery: "SELECT v FROM t", OptimizedQuery: "SELECT v FROM t WHERE id < 3"},
		{ID: "broken", Schema: testSchema, OriginalQuery: "SELECT v FROM t", OptimizedQuery: "SELECT nope FROM t"},
	}
}

func TestRunCasesWritesReports(t *testing.T) {
	cfg := testConfig(t)
	up := &fakeUploader{}
	r, err := New(cfg, WithUploader(up), WithEvaluator(frozenEvaluator()))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	stats, err := r.RunCases(context.Background(), testCases())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Cases != 3 || stats.Succeeded != 1 || stats.Accepted != 1 || stats.Mismatches != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	summaries, err := report.LoadSummaries(cfg.Report.OutputDir)
	if err != nil {
		t.Fatalf("load summaries: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 case dirs, got %d", len(summaries))
	}
	byInput := make(map[string]report.Summary, len(summaries))
	for _, s := range summaries {
		byInput[s.InputID] = s
	}
	same := byInput["same"]
	if !same.Success || !same.Accepted || same.Reward != 0.5 {
		t.Fatalf("unexpected summary for identical queries %+v", same)
	}
	if same.UploadLocation == "" || !strings.HasPrefix(same.UploadLocation, "mem://") {
		t.Fatalf("expected upload location, got %q", same.UploadLocation)
	}
	if same.Details["explanation"] != "identity" {
		t.Fatalf("expected explanation in details, got %+v", same.Details)
	}
	mismatch := byInput["mismatch"]
	if mismatch.Error != evaluator.MsgResultsMismatch {
		t.Fatalf("unexpected mismatch error %q", mismatch.Error)
	}
	tsv, err := os.ReadFile(filepath.Join(cfg.Report.OutputDir, mismatch.CaseDir, "optimized.tsv"))
	if err != nil {
		t.Fatalf("expected optimized.tsv for a mismatch: %v", err)
	}
	if string(tsv) != "v\n10\n20\n" {
		t.Fatalf("unexpected optimized.tsv %q", tsv)
	}
	if mismatch.Details["optimized_rows_truncated"] != false {
		t.Fatalf("expected truncation flag, got %+v", mismatch.Details)
	}
	if got := byInput["broken"].Error; got != evaluator.MsgOptimizedFailed {
		t.Fatalf("unexpected broken error %q", got)
	}
	sqlPath := filepath.Join(cfg.Report.OutputDir, same.CaseDir, "original.sql")
	data, err := os.ReadFile(sqlPath)
	if err != nil {
		t.Fatalf("read original.sql: %v", err)
	}
	if string(data) != "SELECT v FROM t;\n" {
		t.Fatalf("unexpected original.sql %q", data)
	}
	if _, err := os.Stat(filepath.Join(cfg.Report.OutputDir, report.ManifestName)); err != nil {
		t.Fatalf("expected manifest: %v", err)
	}
	if len(up.dirs) != 3 || len(up.files) != 1 || up.files[0] != report.ManifestName {
		t.Fatalf("unexpected uploads dirs=%v files=%v", up.dirs, up.files)
	}
}

func TestRunCasesFailedOnlyAndArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Report.FailedOnly = true
	cfg.Report.Archive = true
	cfg.MaxCases = 2
	r, err := New(cfg, WithEvaluator(frozenEvaluator()))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	stats, err := r.RunCases(context.Background(), testCases())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Cases != 2 {
		t.Fatalf("expected max_cases to cap the run, got %d", stats.Cases)
	}
	summaries, err := report.LoadSummaries(cfg.Report.OutputDir)
	if err != nil {
		t.Fatalf("load summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].InputID != "mismatch" {
		t.Fatalf("expected only the failed case on disk, got %+v", summaries)
	}
	if summaries[0].ArchiveName != report.CaseArchiveName {
		t.Fatalf("expected archive name, got %q", summaries[0].ArchiveName)
	}
	archive := filepath.Join(cfg.Report.OutputDir, summaries[0].CaseDir, report.CaseArchiveName)
	files, err := report.ReadCaseArchive(archive)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if _, ok := files["optimized.sql"]; !ok {
		t.Fatalf("expected optimized.sql in archive, got %d files", len(files))
	}
}

func TestRunCasesWithJudge(t *testing.T) {
	cfg := testConfig(t)
	cfg.Report.OutputDir = ""
	verdict := judge.Func(func(context.Context, string, string, string) (judge.Verdict, error) {
		return judge.Verdict{Preference: "B", Confidence: "high"}, nil
	})
	r, err := New(cfg, WithEvaluator(frozenEvaluator(evaluator.WithJudge(verdict))))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	stats, err := r.RunCases(context.Background(), testCases()[:1])
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Judged != 1 || stats.MeanReward < 0.7-1e-9 || stats.MeanReward > 0.7+1e-9 {
		t.Fatalf("expected judged reward 0.7, got %+v", stats)
	}
}

func TestRunLoadsCaseFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.CasesFile = filepath.Join(t.TempDir(), "cases.yaml")
	body := "- id: one\n  schema: \"CREATE TABLE t(x INTEGER)\"\n  original_query: SELECT x FROM t\n  optimized_query: SELECT x FROM t\n"
	if err := os.WriteFile(cfg.CasesFile, []byte(body), 0o644); err != nil {
		t.Fatalf("write cases: %v", err)
	}
	r, err := New(cfg, WithEvaluator(frozenEvaluator()))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Cases != 1 || stats.Accepted != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRunMissingCaseFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.CasesFile = filepath.Join(t.TempDir(), "missing.yaml")
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if _, err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected error for missing case file")
	}
}

func TestRunCasesCanceled(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := r.RunCases(ctx, testCases())
	if err == nil {
		t.Fatalf("expected interrupted error")
	}
	if stats.Cases != 0 {
		t.Fatalf("expected no cases evaluated, got %d", stats.Cases)
	}
}

func TestStdDevMillis(t *testing.T) {
	if got := stdDevMillis([]time.Duration{time.Millisecond}); got != 0 {
		t.Fatalf("single run should have zero stddev, got %v", got)
	}
	got := stdDevMillis([]time.Duration{2 * time.Millisecond, 4 * time.Millisecond})
	if got < 1.414 || got > 1.415 {
		t.Fatalf("unexpected stddev %v", got)
	}
}

func TestOutcomeLabel(t *testing.T) {
	cases := []struct {
		res  evaluator.Result
		want string
	}{
		{evaluator.Result{Success: true}, "success"},
		{evaluator.Result{Error: evaluator.MsgResultsMismatch}, "mismatch"},
		{evaluator.Result{Error: evaluator.MsgOriginalFailed}, "original_failed"},
		{evaluator.Result{Error: evaluator.MsgOptimizedFailed}, "optimized_failed"},
		{evaluator.Result{Error: "create sandbox: boom"}, "error"},
	}
	for _, tc := range cases {
		if got := outcomeLabel(tc.res); got != tc.want {
			t.Fatalf("outcomeLabel(%q): expected %s, got %s", tc.res.Error, tc.want, got)
		}
	}
}

func TestObserveAccumulatesSpeedup(t *testing.T) {
	r, err := New(testConfig(t), WithEvaluator(frozenEvaluator()))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	r.observe(report.Summary{Accepted: true}, evaluator.Result{Success: true, Reward: 0.3, Speedup: 3})
	r.observe(report.Summary{}, evaluator.Result{Success: true, Reward: 0.5, Speedup: 1})
	r.observe(report.Summary{}, evaluator.Result{Error: evaluator.MsgResultsMismatch})
	st := r.snapshot()
	if st.evaluated != 3 || st.succeeded != 2 || st.mismatched != 1 {
		t.Fatalf("unexpected counters %+v", st)
	}
	if got := st.meanSpeedup(); got != 2 {
		t.Fatalf("meanSpeedup()=%v, want 2", got)
	}
	line := formatStats(st, runStats{evaluated: 1})
	if !strings.Contains(line, "mean_speedup=2.00x") || !strings.Contains(line, "evaluated=3(+2)") {
		t.Fatalf("unexpected stats line %q", line)
	}
	if (runStats{}).meanSpeedup() != 0 || (runStats{}).meanReward() != 0 {
		t.Fatalf("empty stats should report zero means")
	}
}
