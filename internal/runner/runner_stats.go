package runner

import (
	"fmt"
	"time"

	"quill/internal/evaluator"
	"quill/internal/metrics"
	"quill/internal/report"
	"quill/internal/util"

	"github.com/dustin/go-humanize"
)

type runStats struct {
	evaluated  int64
	succeeded  int64
	accepted   int64
	mismatched int64
	timeouts   int64
	copiedRows int64
	rewardSum  float64
	speedupSum float64
}

func outcomeLabel(res evaluator.Result) string {
	switch {
	case res.Success:
		return "success"
	case res.Error == evaluator.MsgResultsMismatch:
		return "mismatch"
	case res.Error == evaluator.MsgOriginalFailed:
		return "original_failed"
	case res.Error == evaluator.MsgOptimizedFailed:
		return "optimized_failed"
	default:
		return "error"
	}
}

func (r *Runner) observe(summary report.Summary, res evaluator.Result) {
	copied := 0
	for _, n := range res.CopiedRows {
		copied += n
	}
	r.metrics.Observe(metrics.Observation{
		Success:          res.Success,
		Accepted:         summary.Accepted,
		Reward:           res.Reward,
		Speedup:          res.Speedup,
		OriginalTime:     res.OriginalTime,
		OptimizedTime:    res.OptimizedTime,
		OriginalTimedOut: res.OriginalTimedOut,
		CopiedRows:       copied,
		Preference:       res.ReadabilityPreference,
		Outcome:          outcomeLabel(res),
	})

	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	r.stats.evaluated++
	r.stats.rewardSum += res.Reward
	r.stats.copiedRows += int64(copied)
	if res.Success {
		r.stats.succeeded++
		r.stats.speedupSum += res.Speedup
	}
	if summary.Accepted {
		r.stats.accepted++
	}
	if res.Error == evaluator.MsgResultsMismatch {
		r.stats.mismatched++
	}
	if res.OriginalTimedOut {
		r.stats.timeouts++
	}
}

func (r *Runner) snapshot() runStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

func (r *Runner) startStatsLogger() func() {
	interval := time.Duration(r.cfg.Logging.ReportIntervalSeconds) * time.Second
	if interval <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		var last runStats
		for {
			select {
			case <-ticker.C:
				cur := r.snapshot()
				logStats(cur, last)
				last = cur
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() {
		close(done)
	}
}

func logStats(cur, last runStats) {
	util.Infof("%s", formatStats(cur, last))
}

func formatStats(cur, last runStats) string {
	delta := cur.evaluated - last.evaluated
	return fmt.Sprintf("runner stats evaluated=%s(+%d) succeeded=%s accepted=%s mismatched=%d timeouts=%d mean_reward=%.3f mean_speedup=%.2fx copied_rows=%s",
		humanize.Comma(cur.evaluated), delta, humanize.Comma(cur.succeeded), humanize.Comma(cur.accepted),
		cur.mismatched, cur.timeouts, cur.meanReward(), cur.meanSpeedup(), humanize.Comma(cur.copiedRows))
}

func (s runStats) meanReward() float64 {
	if s.evaluated == 0 {
		return 0
	}
	return s.rewardSum / float64(s.evaluated)
}

// meanSpeedup averages over successful evaluations only.
func (s runStats) meanSpeedup() float64 {
	if s.succeeded == 0 {
		return 0
	}
	return s.speedupSum / float64(s.succeeded)
}
