package runner

import (
	"context"
	"path/filepath"
	"time"

	"quill/internal/cases"
	"quill/internal/evaluator"
	"quill/internal/report"
	"quill/internal/resultset"
	"quill/internal/util"

	"gonum.org/v1/gonum/stat"
)

const maxReportRows = 50

func (r *Runner) summarize(c cases.Case, res evaluator.Result) report.Summary {
	summary := report.Summary{
		InputID:           c.ID,
		Description:       c.Description,
		OptimizationType:  c.OptimizationType,
		Success:           res.Success,
		Accepted:          r.accepted(res),
		Reward:            res.Reward,
		BaseReward:        res.BaseReward,
		Speedup:           res.Speedup,
		OriginalTimeMs:    millis(res.OriginalTime),
		OptimizedTimeMs:   millis(res.OptimizedTime),
		OriginalStdDevMs:  stdDevMillis(res.OriginalRuns),
		OptimizedStdDevMs: stdDevMillis(res.OptimizedRuns),
		ResultsMatch:      res.ResultsMatch,
		OriginalTimedOut:  res.OriginalTimedOut,
		OriginalStatus:    res.OriginalStatus,
		OptimizedStatus:   res.OptimizedStatus,
		Error:             res.Error,
		ErrorDetail:       res.ErrorDetail,
		NumRuns:           r.cfg.NumRuns,
		TimeoutSeconds:    r.cfg.TimeoutSeconds,
		Details:           map[string]any{},
		RunInfo:           r.cfg.RunInfo,
		Timestamp:         r.now().UTC().Format(time.RFC3339Nano),
	}
	if res.Judged {
		summary.Readability = &report.Readability{
			Preference: res.ReadabilityPreference,
			Confidence: res.ReadabilityConfidence,
			Reasoning:  res.ReadabilityReasoning,
			Bonus:      res.ReadabilityBonus,
		}
	}
	if c.Explanation != "" {
		summary.Details["explanation"] = c.Explanation
	}
	if res.OriginalStatus != "" {
		summary.Details["original_rows"] = res.OriginalRows
	}
	if res.OptimizedStatus != "" {
		summary.Details["optimized_rows"] = res.OptimizedRows
	}
	if len(res.CopiedRows) > 0 {
		summary.Details["copied_rows"] = res.CopiedRows
	}
	return summary
}

// handleResult writes the case directory, then archives and uploads it
// when configured. Write failures are logged and never fail the run.
func (r *Runner) handleResult(ctx context.Context, c cases.Case, res evaluator.Result, summary *report.Summary) {
	caseData, err := r.reporter.NewCase()
	if err != nil {
		util.Warnf("create case dir failed: %v", err)
		return
	}
	summary.CaseID = caseData.ID
	summary.CaseDir = filepath.Base(caseData.Dir)
	if r.cfg.Report.Archive {
		summary.ArchiveName = report.CaseArchiveName
		summary.ArchiveCodec = report.CaseArchiveCodec
	}
	r.writeFile(r.reporter.WriteSQL(caseData, "schema.sql", c.Schema), caseData, "schema.sql")
	r.writeFile(r.reporter.WriteSQL(caseData, "original.sql", c.OriginalQuery), caseData, "original.sql")
	r.writeFile(r.reporter.WriteSQL(caseData, "optimized.sql", c.OptimizedQuery), caseData, "optimized.sql")
	if res.Error == evaluator.MsgResultsMismatch {
		r.writeRows(caseData, summary, "original", res.OriginalSet)
		r.writeRows(caseData, summary, "optimized", res.OptimizedSet)
	}
	r.writeFile(r.reporter.WriteSummary(caseData, *summary), caseData, report.SummaryName)

	if r.cfg.Report.Archive {
		if _, _, archiveErr := r.reporter.WriteCaseArchive(caseData); archiveErr != nil {
			util.Warnf("case archive failed dir=%s err=%v", caseData.Dir, archiveErr)
			summary.ArchiveName = ""
			summary.ArchiveCodec = ""
			r.writeFile(r.reporter.WriteSummary(caseData, *summary), caseData, report.SummaryName)
		}
	}

	if r.uploader.Enabled() {
		location, err := r.uploader.UploadDir(ctx, caseData.Dir)
		if err != nil {
			util.Warnf("upload case dir=%s failed: %v", caseData.Dir, err)
			return
		}
		summary.UploadLocation = location
		r.writeFile(r.reporter.WriteSummary(caseData, *summary), caseData, report.SummaryName)
	}
}

// writeRows dumps a bounded sample of a result set next to the SQL so a
// mismatch can be inspected without re-running the case.
func (r *Runner) writeRows(c report.Case, summary *report.Summary, role string, set resultset.Set) {
	text, truncated := set.TSV(maxReportRows)
	if text == "" {
		return
	}
	name := role + ".tsv"
	r.writeFile(r.reporter.WriteText(c, name, text), c, name)
	summary.Details[role+"_rows_truncated"] = truncated
}

func (r *Runner) writeFile(err error, c report.Case, name string) {
	if err != nil {
		util.Warnf("write %s dir=%s failed: %v", name, c.Dir, err)
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func stdDevMillis(runs []time.Duration) float64 {
	if len(runs) < 2 {
		return 0
	}
	xs := make([]float64, len(runs))
	for i, d := range runs {
		xs[i] = millis(d)
	}
	return stat.StdDev(xs, nil)
}
