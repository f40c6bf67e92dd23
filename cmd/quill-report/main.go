package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"quill/internal/config"
	"quill/internal/report"
	"quill/internal/uploader"
	"quill/internal/util"
)

type filterOptions struct {
	AcceptedOnly bool
	FailedOnly   bool
	MinReward    float64
}

func main() {
	input := flag.String("input", "reports", "directory holding case report directories")
	output := flag.String("output", "", "output directory for reports.json (defaults to -input)")
	configPath := flag.String("config", "", "path to config file (for storage publishing)")
	publish := flag.Bool("publish", false, "upload reports.json through the configured storage backends")
	acceptedOnly := flag.Bool("accepted-only", false, "only include accepted candidates")
	failedOnly := flag.Bool("failed-only", false, "only include failed candidates")
	minReward := flag.Float64("min-reward", 0, "drop candidates below this reward")
	flag.Parse()

	if *acceptedOnly && *failedOnly {
		fail("-accepted-only and -failed-only are mutually exclusive")
	}
	summaries, err := report.LoadSummaries(*input)
	if err != nil {
		fail("load summaries: %v", err)
	}
	summaries = filterSummaries(summaries, filterOptions{
		AcceptedOnly: *acceptedOnly,
		FailedOnly:   *failedOnly,
		MinReward:    *minReward,
	})
	outDir := *output
	if outDir == "" {
		outDir = *input
	}
	path := filepath.Join(outDir, report.ManifestName)
	manifest := report.BuildManifest(*input, summaries, time.Now())
	if err := report.WriteManifest(path, manifest); err != nil {
		fail("write manifest: %v", err)
	}
	st := manifest.Stats
	util.Infof("wrote %s cases=%d accepted=%d success_rate=%.2f mean_reward=%.3f p90_speedup=%.2fx",
		path, st.Cases, st.Accepted, st.SuccessRate, st.MeanReward, st.P90Speedup)

	if !*publish {
		return
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("load config: %v", err)
	}
	location, err := publishManifest(context.Background(), cfg.Storage, path)
	if err != nil {
		fail("publish manifest: %v", err)
	}
	util.Infof("published manifest to %s", location)
}

func filterSummaries(in []report.Summary, opts filterOptions) []report.Summary {
	out := make([]report.Summary, 0, len(in))
	for _, s := range in {
		if opts.AcceptedOnly && !s.Accepted {
			continue
		}
		if opts.FailedOnly && s.Success {
			continue
		}
		if opts.MinReward > 0 && s.Reward < opts.MinReward {
			continue
		}
		out = append(out, s)
	}
	return out
}

func publishManifest(ctx context.Context, storage config.StorageConfig, path string) (string, error) {
	up, err := uploader.New(storage)
	if err != nil {
		return "", err
	}
	if !up.Enabled() {
		return "", fmt.Errorf("no storage backend enabled")
	}
	return up.UploadFile(ctx, path, report.ManifestName)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
