package config

import (
	"os"
	"strings"
	"time"

	"quill/internal/runinfo"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config captures all runtime options for a batch evaluation.
type Config struct {
	CasesFile       string             `yaml:"cases_file"`
	ReferenceDB     string             `yaml:"reference_db"`
	SandboxDir      string             `yaml:"sandbox_dir"`
	InMemory        bool               `yaml:"in_memory_sandbox"`
	NumRuns         int                `yaml:"num_runs"`
	TimeoutSeconds  float64            `yaml:"timeout_seconds"`
	RewardThreshold float64            `yaml:"reward_threshold"`
	MaxCases        int                `yaml:"max_cases"`
	Judge           JudgeConfig        `yaml:"judge"`
	Report          ReportConfig       `yaml:"report"`
	Storage         StorageConfig      `yaml:"storage"`
	Metrics         MetricsConfig      `yaml:"metrics"`
	Logging         Logging            `yaml:"logging"`
	RunInfo         *runinfo.BasicInfo `yaml:"-"`
}

// JudgeConfig configures the readability judge.
type JudgeConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// APIKey reads the judge key from the configured environment variable.
func (j JudgeConfig) APIKey() string {
	if j.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(j.APIKeyEnv))
}

// Timeout returns the judge request timeout.
func (j JudgeConfig) Timeout() time.Duration {
	return time.Duration(j.TimeoutSeconds) * time.Second
}

// ReportConfig controls per-case report directories.
type ReportConfig struct {
	OutputDir   string `yaml:"output_dir"`
	Archive     bool   `yaml:"archive"`
	UseUUIDPath bool   `yaml:"use_uuid_path"`
	// FailedOnly skips report directories for accepted candidates.
	FailedOnly bool `yaml:"failed_only"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	// ListenAddr serves /metrics while the run is in progress when set.
	ListenAddr string `yaml:"listen_addr"`
	// Textfile writes the final metrics snapshot when set.
	Textfile string `yaml:"textfile"`
}

// Logging controls stdout/log-file output.
type Logging struct {
	Verbose               bool   `yaml:"verbose"`
	LogFile               string `yaml:"log_file"`
	ReportIntervalSeconds int    `yaml:"report_interval_seconds"`
}

// StorageConfig holds external storage settings.
type StorageConfig struct {
	S3  S3Config  `yaml:"s3"`
	GCS GCSConfig `yaml:"gcs"`
}

// CloudEnabled reports whether any cloud storage backend is enabled.
func (s StorageConfig) CloudEnabled() bool {
	return s.GCS.Enabled || s.S3.Enabled
}

// S3Config configures S3 uploads (AWS and S3-compatible endpoints).
type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// GCSConfig configures GCS uploads.
type GCSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Timeout returns the per-statement budget.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

const redactedValue = "***"

// Redacted returns a copy safe to log: S3 credentials are masked.
func (c Config) Redacted() Config {
	out := c
	out.Storage.S3.AccessKeyID = redact(c.Storage.S3.AccessKeyID)
	out.Storage.S3.SecretAccessKey = redact(c.Storage.S3.SecretAccessKey)
	out.Storage.S3.SessionToken = redact(c.Storage.S3.SessionToken)
	return out
}

func redact(v string) string {
	if v == "" {
		return ""
	}
	return redactedValue
}

// Load reads configuration from a YAML file. An empty path yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}
	normalizeConfig(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.RunInfo = runinfo.FromEnv()
	return cfg, nil
}

const (
	numRunsDefault         = 5
	timeoutSecondsDefault  = 30
	rewardThresholdDefault = 0.5
	judgeTimeoutDefault    = 60
	reportIntervalDefault  = 30
)

func normalizeConfig(cfg *Config) {
	cfg.ReferenceDB = strings.TrimSpace(cfg.ReferenceDB)
	cfg.CasesFile = strings.TrimSpace(cfg.CasesFile)
	if cfg.NumRuns == 0 {
		cfg.NumRuns = numRunsDefault
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = timeoutSecondsDefault
	}
	if cfg.Judge.TimeoutSeconds <= 0 {
		cfg.Judge.TimeoutSeconds = judgeTimeoutDefault
	}
	if strings.TrimSpace(cfg.Judge.APIKeyEnv) == "" {
		cfg.Judge.APIKeyEnv = "OPENAI_API_KEY"
	}
	if strings.TrimSpace(cfg.Report.OutputDir) == "" {
		cfg.Report.OutputDir = "reports"
	}
	if cfg.Logging.ReportIntervalSeconds <= 0 {
		cfg.Logging.ReportIntervalSeconds = reportIntervalDefault
	}
	cfg.Storage.S3.Prefix = strings.Trim(cfg.Storage.S3.Prefix, "/")
	cfg.Storage.GCS.Prefix = strings.Trim(cfg.Storage.GCS.Prefix, "/")
}

// Validate rejects settings the evaluator cannot honor.
func (c Config) Validate() error {
	if c.NumRuns < 1 {
		return errors.Errorf("num_runs must be >= 1, got %d", c.NumRuns)
	}
	if c.TimeoutSeconds <= 0 {
		return errors.Errorf("timeout_seconds must be positive, got %v", c.TimeoutSeconds)
	}
	if c.RewardThreshold < 0 || c.RewardThreshold > 1 {
		return errors.Errorf("reward_threshold must be within [0, 1], got %v", c.RewardThreshold)
	}
	if c.MaxCases < 0 {
		return errors.Errorf("max_cases must not be negative, got %d", c.MaxCases)
	}
	if c.Judge.Enabled && strings.TrimSpace(c.Judge.Endpoint) == "" {
		return errors.New("judge.endpoint is required when the judge is enabled")
	}
	if c.Storage.S3.Enabled && c.Storage.S3.Bucket == "" {
		return errors.New("storage.s3.bucket is required when s3 is enabled")
	}
	if c.Storage.GCS.Enabled && c.Storage.GCS.Bucket == "" {
		return errors.New("storage.gcs.bucket is required when gcs is enabled")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		NumRuns:         numRunsDefault,
		TimeoutSeconds:  timeoutSecondsDefault,
		RewardThreshold: rewardThresholdDefault,
		Judge: JudgeConfig{
			Endpoint:       "https://api.openai.com/v1/chat/completions",
			Model:          "gpt-4",
			APIKeyEnv:      "OPENAI_API_KEY",
			TimeoutSeconds: judgeTimeoutDefault,
		},
		Report: ReportConfig{
			OutputDir: "reports",
		},
		Logging: Logging{
			LogFile:               "logs/quill.log",
			ReportIntervalSeconds: reportIntervalDefault,
		},
	}
}
