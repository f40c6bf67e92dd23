// Package runinfo collects CI metadata attached to evaluation reports.
package runinfo

import (
	"os"
	"regexp"
	"strings"
)

const overridePrefix = "QUILL_CI"

var pullRefPattern = regexp.MustCompile(`^refs/pull/([0-9]+)/`)

// BasicInfo describes the CI run that produced a report.
type BasicInfo struct {
	CI          bool   `json:"ci,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Repository  string `json:"repository,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Commit      string `json:"commit,omitempty"`
	Workflow    string `json:"workflow,omitempty"`
	Job         string `json:"job,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	PullRequest string `json:"pull_request,omitempty"`
	BuildURL    string `json:"build_url,omitempty"`
}

// provider maps one CI system's environment onto BasicInfo fields. Each
// field lists candidate variables in priority order.
type provider struct {
	name   string
	detect string
	fields map[string][]string
}

var providers = []provider{
	{
		name:   "github_actions",
		detect: "GITHUB_ACTIONS",
		fields: map[string][]string{
			"repository":   {"GITHUB_REPOSITORY"},
			"branch":       {"GITHUB_HEAD_REF", "GITHUB_REF_NAME"},
			"commit":       {"GITHUB_SHA"},
			"workflow":     {"GITHUB_WORKFLOW"},
			"job":          {"GITHUB_JOB"},
			"run_id":       {"GITHUB_RUN_ID"},
			"pull_request": {"GITHUB_PR_NUMBER"},
		},
	},
	{
		name:   "gitlab_ci",
		detect: "GITLAB_CI",
		fields: map[string][]string{
			"repository":   {"CI_PROJECT_PATH"},
			"branch":       {"CI_COMMIT_REF_NAME"},
			"commit":       {"CI_COMMIT_SHA"},
			"workflow":     {"CI_PIPELINE_SOURCE"},
			"job":          {"CI_JOB_NAME"},
			"run_id":       {"CI_PIPELINE_ID"},
			"pull_request": {"CI_MERGE_REQUEST_IID"},
			"build_url":    {"CI_JOB_URL"},
		},
	},
	{
		name:   "buildkite",
		detect: "BUILDKITE",
		fields: map[string][]string{
			"repository":   {"BUILDKITE_REPO"},
			"branch":       {"BUILDKITE_BRANCH"},
			"commit":       {"BUILDKITE_COMMIT"},
			"workflow":     {"BUILDKITE_PIPELINE_SLUG"},
			"job":          {"BUILDKITE_LABEL"},
			"run_id":       {"BUILDKITE_BUILD_ID"},
			"pull_request": {"BUILDKITE_PULL_REQUEST"},
			"build_url":    {"BUILDKITE_BUILD_URL"},
		},
	},
	{
		name:   "jenkins",
		detect: "JENKINS_URL",
		fields: map[string][]string{
			"branch":       {"BRANCH_NAME", "GIT_BRANCH"},
			"commit":       {"GIT_COMMIT"},
			"job":          {"JOB_NAME"},
			"run_id":       {"BUILD_ID"},
			"pull_request": {"CHANGE_ID"},
			"build_url":    {"BUILD_URL"},
		},
	},
}

// FromEnv builds run metadata from the environment. QUILL_CI_* variables
// override whatever the detected provider reports. It returns nil outside
// CI when nothing is set.
func FromEnv() *BasicInfo {
	info := BasicInfo{}
	for _, p := range providers {
		v := env(p.detect)
		if v == "" || (p.detect != "JENKINS_URL" && !isTruthy(v)) {
			continue
		}
		info.CI = true
		info.Provider = p.name
		for field, keys := range p.fields {
			info.set(field, envFirst(keys...))
		}
		break
	}
	if info.Provider == "github_actions" {
		if info.PullRequest == "" {
			info.PullRequest = pullRequestFromRef(env("GITHUB_REF"))
		}
		if info.Repository != "" && info.RunID != "" {
			server := env("GITHUB_SERVER_URL")
			if server == "" {
				server = "https://github.com"
			}
			info.BuildURL = strings.TrimRight(server, "/") + "/" + info.Repository + "/actions/runs/" + info.RunID
		}
	}
	if isTruthy(env("CI")) {
		info.CI = true
	}
	explicitCI, hasExplicitCI := lookup(overridePrefix)
	overridden := false
	for _, field := range fieldNames {
		if v := env(overridePrefix + "_" + strings.ToUpper(field)); v != "" {
			info.set(field, v)
			overridden = true
		}
	}
	info.Branch = strings.TrimPrefix(strings.TrimPrefix(info.Branch, "refs/heads/"), "origin/")
	info.Provider = strings.ToLower(info.Provider)
	switch {
	case hasExplicitCI && explicitCI != "":
		info.CI = isTruthy(explicitCI)
	case overridden:
		info.CI = true
	}
	if info.CI && info.Provider == "" {
		info.Provider = "generic"
	}
	if info.IsZero() {
		return nil
	}
	return &info
}

var fieldNames = []string{"provider", "repository", "branch", "commit", "workflow", "job", "run_id", "pull_request", "build_url"}

func (b *BasicInfo) set(field, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	switch field {
	case "provider":
		b.Provider = value
	case "repository":
		b.Repository = value
	case "branch":
		b.Branch = value
	case "commit":
		b.Commit = value
	case "workflow":
		b.Workflow = value
	case "job":
		b.Job = value
	case "run_id":
		b.RunID = value
	case "pull_request":
		b.PullRequest = value
	case "build_url":
		b.BuildURL = value
	}
}

// IsZero reports whether no field is set.
func (b BasicInfo) IsZero() bool {
	return b == BasicInfo{}
}

func pullRequestFromRef(ref string) string {
	if m := pullRefPattern.FindStringSubmatch(strings.TrimSpace(ref)); len(m) > 1 {
		return m[1]
	}
	return ""
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envFirst(keys ...string) string {
	for _, key := range keys {
		if v := env(key); v != "" {
			return v
		}
	}
	return ""
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return strings.TrimSpace(v), ok
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
