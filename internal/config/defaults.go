package config

import "strings"

// Default knobs applied when the operator leaves fields unset.
const (
	DefaultWorkers          = 4
	DefaultQueueSize        = 100
	DefaultStageTimeout     = "30m"
	DefaultGracePeriod      = "10s"
	DefaultPublishRetries   = 3
	DefaultCoverageFloor    = 70.0
	DefaultDaemonPort       = 8080
	DefaultEventStorePath   = "ciflow-events.db"
	DefaultArtifactDir      = "./artifacts"
	DefaultConcurrentBuilds = 2
	DefaultWorkspaceDir     = "./ciflow-workspace"
)

// ApplyDefaults fills unset fields with sensible defaults. It never overrides
// an explicit operator value.
func (c *Config) ApplyDefaults() {
	if c.Executor.Workers <= 0 {
		c.Executor.Workers = DefaultWorkers
	}
	if c.Executor.QueueSize <= 0 {
		c.Executor.QueueSize = DefaultQueueSize
	}
	if c.Executor.StageTimeout == "" {
		c.Executor.StageTimeout = DefaultStageTimeout
	}
	if c.Executor.GracePeriod == "" {
		c.Executor.GracePeriod = DefaultGracePeriod
	}
	if c.Executor.RetryBackoff == "" {
		c.Executor.RetryBackoff = RetryBackoffLinear
	}

	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = DefaultArtifactDir
	}
	if c.Artifacts.PublishRetries <= 0 {
		c.Artifacts.PublishRetries = DefaultPublishRetries
	}

	if c.EventStore.Path == "" {
		c.EventStore.Path = DefaultEventStorePath
	}

	if c.Daemon.Port <= 0 {
		c.Daemon.Port = DefaultDaemonPort
	}
	if c.Daemon.ConcurrentBuilds <= 0 {
		c.Daemon.ConcurrentBuilds = DefaultConcurrentBuilds
	}
	if c.Daemon.WorkspaceDir == "" {
		c.Daemon.WorkspaceDir = DefaultWorkspaceDir
	}

	for i := range c.Pipelines {
		applyPipelineDefaults(&c.Pipelines[i])
	}
}

func applyPipelineDefaults(p *Pipeline) {
	if p.Repo.Ref == "" {
		p.Repo.Ref = "main"
	}
	if p.Owner == "" {
		p.Owner = "operator"
	}
	if p.Label == "" {
		p.Label = strings.ReplaceAll(p.Repo.Ref, "/", "_")
	}
	if p.Sandbox.Databases < 0 {
		p.Sandbox.Databases = 0
	}
	for i := range p.Stages {
		s := &p.Stages[i]
		if s.MaxRetries < 0 {
			s.MaxRetries = 0
		}
		// Flaky-tolerant stages default to two retries; all others never retry.
		if s.FlakyTolerant && s.MaxRetries == 0 {
			s.MaxRetries = 2
		}
		if !s.FlakyTolerant {
			s.MaxRetries = 0
		}
	}
	// A coverage gate with no threshold gets the non-zero default floor.
	for i := range p.Gates {
		g := &p.Gates[i]
		if g.Type == GateCoverageFloor && g.Threshold <= 0 {
			g.Threshold = DefaultCoverageFloor
		}
	}
}
