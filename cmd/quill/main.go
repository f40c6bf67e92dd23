package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"quill/internal/cases"
	"quill/internal/config"
	"quill/internal/runner"
	"quill/internal/util"

	"gopkg.in/yaml.v3"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	casesFile := flag.String("cases", "", "case file to evaluate (overrides cases_file)")
	reference := flag.String("reference", "", "reference database path or mysql:// DSN (overrides reference_db)")
	schemaFile := flag.String("schema", "", "schema file for a single evaluation")
	originalFile := flag.String("original", "", "original query file for a single evaluation")
	optimizedFile := flag.String("optimized", "", "optimized query file for a single evaluation")
	verbose := flag.Bool("verbose", false, "enable detail logging")
	flag.Parse()

	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("failed to load config: %v", err)
	}
	if *casesFile != "" {
		cfg.CasesFile = *casesFile
	}
	if *reference != "" {
		cfg.ReferenceDB = *reference
	}
	util.SetVerbose(cfg.Logging.Verbose || *verbose)
	closer, err := util.SetupLogFile(cfg.Logging.LogFile)
	if err != nil {
		fail("failed to open log file: %v", err)
	}
	defer util.CloseWithErr(closer, "log file")
	redacted := cfg.Redacted()
	if data, err := yaml.Marshal(&redacted); err == nil {
		util.Detailf("config:\n%s", string(data))
	}

	single, err := singleCase(*schemaFile, *originalFile, *optimizedFile)
	if err != nil {
		fail("%v", err)
	}
	if single == nil && cfg.CasesFile == "" {
		fail("nothing to evaluate: set cases_file, -cases, or -schema/-original/-optimized")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := runner.New(cfg)
	if err != nil {
		fail("failed to build runner: %v", err)
	}
	if single != nil {
		_, err = r.RunCases(ctx, []cases.Case{*single})
	} else {
		_, err = r.Run(ctx)
	}
	if err != nil {
		fail("run failed: %v", err)
	}
}

func singleCase(schemaPath, originalPath, optimizedPath string) (*cases.Case, error) {
	if schemaPath == "" && originalPath == "" && optimizedPath == "" {
		return nil, nil
	}
	if schemaPath == "" || originalPath == "" || optimizedPath == "" {
		return nil, fmt.Errorf("-schema, -original and -optimized must be set together")
	}
	read := func(path string) (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	schema, err := read(schemaPath)
	if err != nil {
		return nil, err
	}
	original, err := read(originalPath)
	if err != nil {
		return nil, err
	}
	optimized, err := read(optimizedPath)
	if err != nil {
		return nil, err
	}
	c := cases.Case{ID: "cli", Schema: schema, OriginalQuery: original, OptimizedQuery: optimized}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
