package runinfo

import (
	"os"
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{"CI", "GITHUB_REF", "GITHUB_SERVER_URL", overridePrefix}
	for _, p := range providers {
		keys = append(keys, p.detect)
		for _, vars := range p.fields {
			keys = append(keys, vars...)
		}
	}
	for _, field := range fieldNames {
		keys = append(keys, overridePrefix+"_"+strings.ToUpper(field))
	}
	for _, key := range keys {
		if _, ok := os.LookupEnv(key); ok {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func TestFromEnvGitHubActions(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITHUB_ACTIONS", "true")
	t.Setenv("GITHUB_REPOSITORY", "acme/quill")
	t.Setenv("GITHUB_HEAD_REF", "feature/rewrites")
	t.Setenv("GITHUB_REF", "refs/pull/31/merge")
	t.Setenv("GITHUB_SHA", "deadbeef")
	t.Setenv("GITHUB_RUN_ID", "987")

	info := FromEnv()
	if info == nil {
		t.Fatalf("expected run info")
	}
	if !info.CI || info.Provider != "github_actions" {
		t.Fatalf("ci=%v provider=%q", info.CI, info.Provider)
	}
	if info.Branch != "feature/rewrites" {
		t.Fatalf("branch=%q", info.Branch)
	}
	if info.PullRequest != "31" {
		t.Fatalf("pull_request=%q", info.PullRequest)
	}
	if info.BuildURL != "https://github.com/acme/quill/actions/runs/987" {
		t.Fatalf("build_url=%q", info.BuildURL)
	}
}

func TestFromEnvGitLab(t *testing.T) {
	clearEnv(t)
	t.Setenv("GITLAB_CI", "true")
	t.Setenv("CI_PROJECT_PATH", "acme/quill")
	t.Setenv("CI_COMMIT_REF_NAME", "refs/heads/main")
	t.Setenv("CI_JOB_URL", "https://gitlab.example/job/1")

	info := FromEnv()
	if info == nil || info.Provider != "gitlab_ci" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Branch != "main" {
		t.Fatalf("branch=%q", info.Branch)
	}
	if info.BuildURL != "https://gitlab.example/job/1" {
		t.Fatalf("build_url=%q", info.BuildURL)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("QUILL_CI_REPOSITORY", "acme/quill")
	t.Setenv("QUILL_CI_COMMIT", "abc123")

	info := FromEnv()
	if info == nil {
		t.Fatalf("expected run info")
	}
	if !info.CI || info.Provider != "generic" {
		t.Fatalf("ci=%v provider=%q", info.CI, info.Provider)
	}
	if info.Commit != "abc123" {
		t.Fatalf("commit=%q", info.Commit)
	}
}

func TestFromEnvExplicitFalse(t *testing.T) {
	clearEnv(t)
	t.Setenv("CI", "true")
	t.Setenv("QUILL_CI", "false")
	t.Setenv("QUILL_CI_COMMIT", "abc123")

	info := FromEnv()
	if info == nil || info.CI {
		t.Fatalf("expected ci=false with commit set, got %+v", info)
	}
}

func TestFromEnvEmpty(t *testing.T) {
	clearEnv(t)
	if info := FromEnv(); info != nil {
		t.Fatalf("expected nil, got %+v", info)
	}
}
