// Package config loads and validates the orchestrator configuration: pipeline
// and stage definitions, gate thresholds, notification channels, and daemon
// settings. Everything is validated before any execution starts.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Pipelines  []Pipeline       `yaml:"pipelines"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Artifacts  ArtifactConfig   `yaml:"artifacts"`
	EventStore EventStoreConfig `yaml:"eventstore"`
	Channels   []ChannelConfig  `yaml:"channels"`
	Daemon     DaemonConfig     `yaml:"daemon"`
}

// Pipeline declares one buildable pipeline: the repository it tracks, its
// stage graph, gate set and trigger sources.
type Pipeline struct {
	Name     string        `yaml:"name"`
	Repo     RepoConfig    `yaml:"repo"`
	Stages   []StageConfig `yaml:"stages"`
	Gates    []GateConfig  `yaml:"gates"`
	Triggers TriggerConfig `yaml:"triggers"`
	Sandbox  SandboxConfig `yaml:"sandbox,omitempty"`
	// Owner is the fallback audience role when committers cannot be resolved.
	Owner string `yaml:"owner,omitempty"`
	// Label is the revision label published artifacts derive their names
	// from ("2_89" yields "2_89.01", "2_89.02", ...). Defaults to the
	// tracked ref with path separators flattened.
	Label string `yaml:"label,omitempty"`
	// Artifact is the workspace-relative path of the build output to
	// publish on promotion. Empty publishes the build manifest instead.
	Artifact string `yaml:"artifact,omitempty"`
}

// RepoConfig points a pipeline at its version-controlled workspace.
type RepoConfig struct {
	URL  string      `yaml:"url"`
	Ref  string      `yaml:"ref,omitempty"`
	Auth *AuthConfig `yaml:"auth,omitempty"`
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Type     string `yaml:"type"` // "ssh", "token", "basic"
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Token    string `yaml:"token,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
}

// StageConfig declares one stage of a pipeline's graph. Stages are static per
// pipeline configuration; they are not created per build.
type StageConfig struct {
	Name      string            `yaml:"name"`
	Kind      string            `yaml:"kind"` // compile|unit-test|component-test|system-test|inspect|db-integrate|deploy
	DependsOn []string          `yaml:"depends_on,omitempty"`
	Command   []string          `yaml:"command"`
	Env       map[string]string `yaml:"env,omitempty"`
	Timeout   string            `yaml:"timeout,omitempty"`
	// FlakyTolerant marks a stage as idempotent and safe to auto-retry on
	// failure. Everything else fails on first signal.
	FlakyTolerant bool `yaml:"flaky_tolerant,omitempty"`
	MaxRetries    int  `yaml:"max_retries,omitempty"`
	// Gates evaluated as soon as this stage completes.
	Gates []string `yaml:"gates,omitempty"`
	// SubBuild groups stages into an independently schedulable sub-graph.
	SubBuild string `yaml:"sub_build,omitempty"`
	// Master marks the aggregation stage fed by all sub-builds.
	Master bool `yaml:"master,omitempty"`
	// NeedsSandbox checks out a database sandbox for the stage's duration.
	NeedsSandbox bool `yaml:"needs_sandbox,omitempty"`
}

// GateConfig declares a promotion gate over accumulated stage metrics.
type GateConfig struct {
	Name      string  `yaml:"name"`
	Type      string  `yaml:"type"` // full-pass|coverage-floor|zero-high-severity|max-duration|max-duplication|max-coupling
	Threshold float64 `yaml:"threshold,omitempty"`
}

// TriggerConfig declares automatic trigger sources for a pipeline. Durations
// use Go syntax ("5m"). Empty disables the source.
type TriggerConfig struct {
	Schedule string `yaml:"schedule,omitempty"`
	Poll     string `yaml:"poll,omitempty"`
}

// SandboxConfig sizes the pipeline's pool of exclusive database sandboxes.
type SandboxConfig struct {
	Databases int `yaml:"databases,omitempty"`
}

// ExecutorConfig tunes the pipeline executor.
type ExecutorConfig struct {
	Workers      int    `yaml:"workers,omitempty"`
	StageTimeout string `yaml:"stage_timeout,omitempty"` // default per-stage wall clock
	GracePeriod  string `yaml:"grace_period,omitempty"`  // SIGTERM-to-kill window on cancellation
	QueueSize    int    `yaml:"queue_size,omitempty"`
	// Sequential widens the admission lock from per-fingerprint to team-wide:
	// only one build runs at a time across all pipelines.
	Sequential        bool             `yaml:"sequential,omitempty"`
	RetryBackoff      RetryBackoffMode `yaml:"retry_backoff,omitempty"`
	RetryInitialDelay string           `yaml:"retry_initial_delay,omitempty"`
	RetryMaxDelay     string           `yaml:"retry_max_delay,omitempty"`
}

// ArtifactConfig configures the artifact registry.
type ArtifactConfig struct {
	Dir            string `yaml:"dir,omitempty"`
	PublishRetries int    `yaml:"publish_retries,omitempty"`
}

// EventStoreConfig configures the append-only event log.
type EventStoreConfig struct {
	Path string `yaml:"path,omitempty"` // sqlite file, ":memory:" for ephemeral
}

// ChannelConfig declares one notification channel plugin instance.
type ChannelConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // log|mail|nats|webhook
	// Roles filters which audiences this channel receives; empty means all.
	Roles   []string    `yaml:"roles,omitempty"`
	URL     string      `yaml:"url,omitempty"`     // nats server or webhook endpoint
	Subject string      `yaml:"subject,omitempty"` // nats subject
	SMTP    *SMTPConfig `yaml:"smtp,omitempty"`
}

// SMTPConfig configures the mail channel relay.
type SMTPConfig struct {
	Host string   `yaml:"host"`
	Port int      `yaml:"port,omitempty"`
	From string   `yaml:"from"`
	To   []string `yaml:"to"`
}

// DaemonConfig configures daemon mode.
type DaemonConfig struct {
	Port         int    `yaml:"port,omitempty"`
	WorkspaceDir string `yaml:"workspace_dir,omitempty"`
	Metrics      bool   `yaml:"metrics,omitempty"`
	// ConcurrentBuilds bounds how many builds execute at once. Stage-level
	// parallelism inside a build is governed by executor.workers.
	ConcurrentBuilds int `yaml:"concurrent_builds,omitempty"`
	// KeepFailedWorkspaces retains the checkout of failed builds for
	// post-mortem inspection instead of removing it.
	KeepFailedWorkspaces bool `yaml:"keep_failed_workspaces,omitempty"`
}

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	// Load .env if present; absence is not an error.
	_ = godotenv.Load()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse unmarshals, defaults, normalizes and validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the YAML content
	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.ApplyDefaults()
	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// PipelineByName returns the named pipeline, or nil.
func (c *Config) PipelineByName(name string) *Pipeline {
	for i := range c.Pipelines {
		if c.Pipelines[i].Name == name {
			return &c.Pipelines[i]
		}
	}
	return nil
}

// StageByName returns the named stage of the pipeline, or nil.
func (p *Pipeline) StageByName(name string) *StageConfig {
	for i := range p.Stages {
		if p.Stages[i].Name == name {
			return &p.Stages[i]
		}
	}
	return nil
}

// TimeoutDuration parses the stage timeout, falling back to the given default.
func (s *StageConfig) TimeoutDuration(fallback time.Duration) time.Duration {
	if s.Timeout == "" {
		return fallback
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ParseDurationOr parses a duration string with a fallback for empty/invalid input.
func ParseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
