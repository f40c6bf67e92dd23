// Package evaluator decides whether a rewritten query is equivalent to the
// original and how much faster it is.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"quill/internal/executor"
	"quill/internal/judge"
	"quill/internal/refdata"
	"quill/internal/resultset"
	"quill/internal/reward"
	"quill/internal/sandbox"
	"quill/internal/util"

	"github.com/pkg/errors"
)

const (
	// DefaultNumRuns is used when a request leaves NumRuns unset.
	DefaultNumRuns = 5
	// DefaultTimeout is used when a request leaves Timeout unset.
	DefaultTimeout = 30 * time.Second
)

// Failure messages reported in Result.Error.
const (
	MsgOptimizedFailed = "Optimized query failed or timed out"
	MsgOriginalFailed  = "Original query failed"
	MsgResultsMismatch = "Results do not match"
)

// Config holds evaluator-wide settings.
type Config struct {
	// ReferenceDB is a SQLite path or mysql:// DSN. Rows of tables it shares
	// with the request schema are copied into each sandbox.
	ReferenceDB string
	SandboxDir  string
	InMemory    bool
	NumRuns     int
	Timeout     time.Duration
}

// Request is one candidate rewrite.
type Request struct {
	Schema         string
	OriginalQuery  string
	OptimizedQuery string
	// NumRuns and Timeout override Config when positive.
	NumRuns int
	Timeout time.Duration
}

// Result is the outcome of Evaluate.
type Result struct {
	Success          bool
	Reward           float64
	BaseReward       float64
	OriginalTime     time.Duration
	OptimizedTime    time.Duration
	Speedup          float64
	ResultsMatch     bool
	OriginalTimedOut bool

	Judged                bool
	ReadabilityPreference string
	ReadabilityReasoning  string
	ReadabilityConfidence string
	ReadabilityBonus      float64

	OriginalStatus  string
	OptimizedStatus string
	OriginalRows    int
	OptimizedRows   int
	OriginalRuns    []time.Duration
	OptimizedRuns   []time.Duration
	CopiedRows      map[string]int
	// OriginalSet and OptimizedSet hold the probe rows of each query.
	OriginalSet  resultset.Set
	OptimizedSet resultset.Set

	Error       string
	ErrorDetail string
}

// Evaluator is stateless apart from its configuration and may be shared
// across goroutines.
type Evaluator struct {
	cfg      Config
	manager  sandbox.Manager
	executor *executor.Executor
	judge    judge.Judge
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithJudge attaches a readability judge.
func WithJudge(j judge.Judge) Option {
	return func(e *Evaluator) {
		e.judge = j
	}
}

// WithExecutor replaces the timed executor.
func WithExecutor(x *executor.Executor) Option {
	return func(e *Evaluator) {
		if x != nil {
			e.executor = x
		}
	}
}

// New builds an Evaluator.
func New(cfg Config, opts ...Option) *Evaluator {
	if cfg.NumRuns == 0 {
		cfg.NumRuns = DefaultNumRuns
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	e := &Evaluator{
		cfg:      cfg,
		manager:  sandbox.Manager{Dir: cfg.SandboxDir, InMemory: cfg.InMemory},
		executor: executor.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs both queries in a fresh sandbox and scores the rewrite.
// It never returns an error: every failure is reported in the Result.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failed(fmt.Sprintf("internal error: %v", r), "")
		}
	}()

	opts, err := e.options(req)
	if err != nil {
		return failed(err.Error(), "")
	}
	sb, err := e.manager.Create(ctx)
	if err != nil {
		return failed(fmt.Sprintf("create sandbox: %v", err), "")
	}
	defer func() {
		if err := sb.Destroy(); err != nil {
			util.Warnf("destroy sandbox %s: %v", sb.ID(), err)
		}
	}()

	if err := sb.ApplySchema(ctx, req.Schema); err != nil {
		return failed(err.Error(), "")
	}
	copied, err := e.copyReference(ctx, sb)
	if err != nil {
		return failed(fmt.Sprintf("copy reference data: %v", err), "")
	}

	orig := e.executor.Run(ctx, sb.Conn(), req.OriginalQuery, opts)
	res.CopiedRows = copied
	res.OriginalStatus = orig.Status.String()
	res.OriginalRows = orig.Rows.Len()
	res.OriginalRuns = orig.Runs
	res.OriginalSet = orig.Rows
	if orig.Status == executor.Errored {
		res.Error = MsgOriginalFailed
		res.ErrorDetail = errText(orig.Err)
		return res
	}

	opt := e.executor.Run(ctx, sb.Conn(), req.OptimizedQuery, opts)
	res.OptimizedStatus = opt.Status.String()
	res.OptimizedRows = opt.Rows.Len()
	res.OptimizedRuns = opt.Runs
	res.OptimizedSet = opt.Rows
	res.OriginalTime = orig.AvgLatency
	res.OptimizedTime = opt.AvgLatency
	if !opt.OK() {
		res.Error = MsgOptimizedFailed
		res.ErrorDetail = errText(opt.Err)
		return res
	}

	if orig.Status == executor.TimedOut {
		res.OriginalTimedOut = true
		res.OriginalTime = opts.Timeout
	} else {
		res.ResultsMatch = resultset.Equal(orig.Rows, opt.Rows)
		if !res.ResultsMatch {
			res.Error = MsgResultsMismatch
			res.ErrorDetail = fmt.Sprintf("original returned %d rows, optimized returned %d rows", orig.Rows.Len(), opt.Rows.Len())
			return res
		}
	}

	res.Success = true
	res.Speedup = reward.Speedup(res.OriginalTime, res.OptimizedTime)
	res.BaseReward = reward.Score(res.Speedup)
	res.Reward = res.BaseReward
	if e.judge != nil {
		e.applyJudge(ctx, req, &res)
	}
	res.Reward = reward.Clamp(res.Reward)
	return res
}

func (e *Evaluator) options(req Request) (executor.Options, error) {
	opts := executor.Options{NumRuns: e.cfg.NumRuns, Timeout: e.cfg.Timeout}
	if req.NumRuns < 0 {
		return opts, errors.Errorf("num_runs must be >= 1, got %d", req.NumRuns)
	}
	if req.Timeout < 0 {
		return opts, errors.Errorf("timeout must be positive, got %s", req.Timeout)
	}
	if req.NumRuns > 0 {
		opts.NumRuns = req.NumRuns
	}
	if req.Timeout > 0 {
		opts.Timeout = req.Timeout
	}
	return opts, nil
}

func (e *Evaluator) copyReference(ctx context.Context, sb *sandbox.Sandbox) (map[string]int, error) {
	if !refdata.Available(e.cfg.ReferenceDB) {
		return nil, nil
	}
	src, err := refdata.Open(ctx, e.cfg.ReferenceDB)
	if err != nil {
		return nil, err
	}
	defer util.CloseWithErr(src, "reference source")
	return sb.CopyReferenceData(ctx, src)
}

// applyJudge folds the readability bonus into res. Judge failures leave
// the base reward untouched.
func (e *Evaluator) applyJudge(ctx context.Context, req Request, res *Result) {
	defer func() {
		if r := recover(); r != nil {
			util.Detailf("readability judge panicked: %v", r)
		}
	}()
	verdict, err := e.judge.Judge(ctx, req.OriginalQuery, req.OptimizedQuery, req.Schema)
	if err != nil {
		util.Detailf("readability judge failed: %v", err)
		return
	}
	bonus := reward.ReadabilityBonus(verdict.Preference, verdict.Confidence)
	res.Judged = true
	res.ReadabilityPreference = verdict.Preference
	res.ReadabilityReasoning = verdict.Reasoning
	res.ReadabilityConfidence = verdict.Confidence
	res.ReadabilityBonus = bonus
	res.Reward = res.BaseReward + bonus
}

func failed(msg, detail string) Result {
	return Result{Error: msg, ErrorDetail: detail}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
