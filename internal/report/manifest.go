package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"quill/internal/util"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// ManifestName is the aggregated output of a run.
const ManifestName = "reports.json"

// Stats aggregates a set of case summaries.
type Stats struct {
	Cases         int     `json:"cases"`
	Succeeded     int     `json:"succeeded"`
	Accepted      int     `json:"accepted"`
	Failed        int     `json:"failed"`
	Mismatches    int     `json:"mismatches"`
	Timeouts      int     `json:"original_timeouts"`
	Judged        int     `json:"judged"`
	SuccessRate   float64 `json:"success_rate"`
	AcceptRate    float64 `json:"accept_rate"`
	MeanReward    float64 `json:"mean_reward"`
	MeanSpeedup   float64 `json:"mean_speedup"`
	MedianSpeedup float64 `json:"median_speedup"`
	P90Speedup    float64 `json:"p90_speedup"`
}

// Manifest is the aggregated view over every case of a run.
type Manifest struct {
	GeneratedAt string    `json:"generated_at"`
	Source      string    `json:"source"`
	Stats       Stats     `json:"stats"`
	Cases       []Summary `json:"cases"`
}

// LoadSummaries reads summary.json from every immediate subdirectory of
// root. Directories without a readable summary are skipped.
func LoadSummaries(root string) ([]Summary, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []Summary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		s, err := ReadSummary(dir)
		if err != nil {
			if !os.IsNotExist(errors.Cause(err)) {
				util.Warnf("skip case dir %s: %v", dir, err)
			}
			continue
		}
		if s.CaseDir == "" {
			s.CaseDir = entry.Name()
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].CaseDir < out[j].CaseDir
	})
	return out, nil
}

// Aggregate computes Stats over summaries. Speedup statistics only cover
// successful cases.
func Aggregate(summaries []Summary) Stats {
	st := Stats{Cases: len(summaries)}
	if len(summaries) == 0 {
		return st
	}
	rewards := make([]float64, 0, len(summaries))
	var speedups []float64
	for _, s := range summaries {
		rewards = append(rewards, s.Reward)
		if s.OriginalTimedOut {
			st.Timeouts++
		}
		if s.Readability != nil {
			st.Judged++
		}
		if s.Accepted {
			st.Accepted++
		}
		if !s.Success {
			st.Failed++
			if isMismatch(s) {
				st.Mismatches++
			}
			continue
		}
		st.Succeeded++
		speedups = append(speedups, s.Speedup)
	}
	st.SuccessRate = float64(st.Succeeded) / float64(st.Cases)
	st.AcceptRate = float64(st.Accepted) / float64(st.Cases)
	st.MeanReward = stat.Mean(rewards, nil)
	if len(speedups) > 0 {
		sort.Float64s(speedups)
		st.MeanSpeedup = stat.Mean(speedups, nil)
		st.MedianSpeedup = stat.Quantile(0.5, stat.Empirical, speedups, nil)
		st.P90Speedup = stat.Quantile(0.9, stat.Empirical, speedups, nil)
	}
	return st
}

func isMismatch(s Summary) bool {
	return !s.ResultsMatch && !s.OriginalTimedOut &&
		s.OriginalStatus == "succeeded" && s.OptimizedStatus == "succeeded"
}

// BuildManifest aggregates summaries into a Manifest stamped with now.
func BuildManifest(source string, summaries []Summary, now time.Time) Manifest {
	if summaries == nil {
		summaries = []Summary{}
	}
	return Manifest{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Source:      source,
		Stats:       Aggregate(summaries),
		Cases:       summaries,
	}
}

// WriteManifest writes m as indented JSON to path.
func WriteManifest(path string, m Manifest) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(f, "manifest output")
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(m)
}
