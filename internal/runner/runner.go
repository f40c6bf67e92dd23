package runner

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"quill/internal/cases"
	"quill/internal/config"
	"quill/internal/evaluator"
	"quill/internal/judge"
	"quill/internal/metrics"
	"quill/internal/report"
	"quill/internal/uploader"
	"quill/internal/util"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Runner evaluates a batch of cases and persists one report per case.
type Runner struct {
	cfg       config.Config
	evaluator *evaluator.Evaluator
	reporter  *report.Reporter
	uploader  uploader.Uploader
	metrics   *metrics.Metrics
	now       func() time.Time

	statsMu sync.Mutex
	stats   runStats
}

// Option configures a Runner.
type Option func(*Runner)

// WithEvaluator replaces the evaluator built from the config.
func WithEvaluator(e *evaluator.Evaluator) Option {
	return func(r *Runner) {
		if e != nil {
			r.evaluator = e
		}
	}
}

// WithUploader replaces the uploader built from the storage config.
func WithUploader(u uploader.Uploader) Option {
	return func(r *Runner) {
		if u != nil {
			r.uploader = u
		}
	}
}

// WithMetrics replaces the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// New constructs a Runner for cfg.
func New(cfg config.Config, opts ...Option) (*Runner, error) {
	r := &Runner{
		cfg:     cfg,
		metrics: metrics.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.evaluator == nil {
		var evalOpts []evaluator.Option
		if j := newJudge(cfg.Judge); j != nil {
			evalOpts = append(evalOpts, evaluator.WithJudge(j))
		}
		r.evaluator = evaluator.New(evaluator.Config{
			ReferenceDB: cfg.ReferenceDB,
			SandboxDir:  cfg.SandboxDir,
			InMemory:    cfg.InMemory,
			NumRuns:     cfg.NumRuns,
			Timeout:     cfg.Timeout(),
		}, evalOpts...)
	}
	if r.uploader == nil {
		up, err := uploader.New(cfg.Storage)
		if err != nil {
			return nil, err
		}
		r.uploader = up
	}
	if cfg.Report.OutputDir != "" {
		r.reporter = report.New(cfg.Report.OutputDir)
		r.reporter.UseUUIDPath = cfg.Report.UseUUIDPath
	}
	return r, nil
}

func newJudge(cfg config.JudgeConfig) judge.Judge {
	if !cfg.Enabled {
		return nil
	}
	key := cfg.APIKey()
	if key == "" {
		util.Warnf("readability judge disabled: %s is not set", cfg.APIKeyEnv)
		return nil
	}
	return judge.NewHTTPJudge(cfg.Endpoint, cfg.Model, key, cfg.Timeout())
}

// Metrics exposes the runner's metrics sink.
func (r *Runner) Metrics() *metrics.Metrics {
	return r.metrics
}

// Run loads the configured cases and evaluates them in order. Cases are
// never evaluated concurrently so that latencies are not skewed by each
// other.
func (r *Runner) Run(ctx context.Context) (report.Stats, error) {
	all, err := cases.Load(r.cfg.CasesFile)
	if err != nil {
		return report.Stats{}, err
	}
	return r.RunCases(ctx, all)
}

// RunCases evaluates the given cases.
func (r *Runner) RunCases(ctx context.Context, all []cases.Case) (report.Stats, error) {
	if r.cfg.MaxCases > 0 && len(all) > r.cfg.MaxCases {
		all = all[:r.cfg.MaxCases]
	}
	stopMetrics := r.startMetricsServer(ctx)
	defer stopMetrics()
	stop := r.startStatsLogger()
	defer stop()

	util.Infof("runner start cases=%s num_runs=%d timeout=%s reference=%t",
		humanize.Comma(int64(len(all))), r.cfg.NumRuns, r.cfg.Timeout(), r.cfg.ReferenceDB != "")
	start := r.now()
	summaries := make([]report.Summary, 0, len(all))
	for _, c := range all {
		if ctx.Err() != nil {
			break
		}
		summaries = append(summaries, r.runCase(ctx, c))
	}

	stats := report.Aggregate(summaries)
	util.Highlightf("runner done cases=%d accepted=%d succeeded=%d mean_reward=%.3f median_speedup=%.2fx elapsed=%s",
		stats.Cases, stats.Accepted, stats.Succeeded, stats.MeanReward, stats.MedianSpeedup, r.now().Sub(start).Round(time.Millisecond))
	if err := r.writeManifest(ctx, summaries); err != nil {
		util.Warnf("write manifest failed: %v", err)
	}
	if path := r.cfg.Metrics.Textfile; path != "" {
		if err := r.metrics.WriteTextfile(path); err != nil {
			util.Warnf("write metrics textfile %s failed: %v", path, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return stats, errors.Wrap(err, "run interrupted")
	}
	return stats, nil
}

func (r *Runner) runCase(ctx context.Context, c cases.Case) report.Summary {
	started := r.now()
	res := r.evaluator.Evaluate(ctx, evaluator.Request{
		Schema:         c.Schema,
		OriginalQuery:  c.OriginalQuery,
		OptimizedQuery: c.OptimizedQuery,
	})
	summary := r.summarize(c, res)
	r.observe(summary, res)
	if r.reporter != nil && !(r.cfg.Report.FailedOnly && summary.Accepted) {
		r.handleResult(ctx, c, res, &summary)
	}
	elapsed := r.now().Sub(started).Round(time.Millisecond)
	switch {
	case summary.Accepted:
		util.Infof("case %s accepted reward=%.3f speedup=%.2fx elapsed=%s", c.ID, res.Reward, res.Speedup, elapsed)
	case res.Success:
		util.Warnf("case %s below threshold reward=%.3f speedup=%.2fx", c.ID, res.Reward, res.Speedup)
	default:
		util.Errorf("case %s failed: %s %s", c.ID, res.Error, res.ErrorDetail)
	}
	return summary
}

func (r *Runner) accepted(res evaluator.Result) bool {
	return res.Success && res.Reward >= r.cfg.RewardThreshold
}

func (r *Runner) startMetricsServer(ctx context.Context) func() {
	addr := r.cfg.Metrics.ListenAddr
	if addr == "" {
		return func() {}
	}
	mctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := r.metrics.Serve(mctx, addr); err != nil {
			util.Warnf("metrics server failed: %v", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (r *Runner) writeManifest(ctx context.Context, summaries []report.Summary) error {
	if r.reporter == nil {
		return nil
	}
	path := filepath.Join(r.cfg.Report.OutputDir, report.ManifestName)
	manifest := report.BuildManifest(r.cfg.CasesFile, summaries, r.now())
	if err := report.WriteManifest(path, manifest); err != nil {
		return err
	}
	if !r.uploader.Enabled() {
		return nil
	}
	location, err := r.uploader.UploadFile(ctx, path, report.ManifestName)
	if err != nil {
		return errors.Wrap(err, "upload manifest")
	}
	util.Infof("manifest uploaded to %s", location)
	return nil
}
