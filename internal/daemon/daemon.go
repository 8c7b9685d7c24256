// Package daemon wires the orchestration engine together: admission and
// dedup, the build queue and its workers, trigger sources, the artifact
// registry, feedback channels and the operator HTTP surface.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Notoriousjayy/CIFlowDocs/internal/artifact"
	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/config"
	"github.com/Notoriousjayy/CIFlowDocs/internal/eventstore"
	"github.com/Notoriousjayy/CIFlowDocs/internal/executor"
	"github.com/Notoriousjayy/CIFlowDocs/internal/feedback"
	"github.com/Notoriousjayy/CIFlowDocs/internal/fingerprint"
	"github.com/Notoriousjayy/CIFlowDocs/internal/gate"
	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
	"github.com/Notoriousjayy/CIFlowDocs/internal/metrics"
	"github.com/Notoriousjayy/CIFlowDocs/internal/retry"
	"github.com/Notoriousjayy/CIFlowDocs/internal/revision"
	"github.com/Notoriousjayy/CIFlowDocs/internal/trigger"
	"github.com/Notoriousjayy/CIFlowDocs/internal/vcs"
	"github.com/Notoriousjayy/CIFlowDocs/internal/workspace"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Options carries optional component overrides, mostly for tests: a scripted
// stage runner, an in-memory VCS, an ephemeral event store.
type Options struct {
	// ConfigPath enables hot reload of the given config file when set.
	ConfigPath string
	// Runner overrides the stage runner. Nil uses the external-process runner.
	Runner executor.StageRunner
	// Collaborators overrides the per-pipeline VCS collaborator. Pipelines
	// not present fall back to a git collaborator built from their config.
	Collaborators map[string]vcs.Collaborator
	// Store overrides the event store; the caller keeps ownership of it.
	Store eventstore.Store
	// PromRegistry receives metrics when daemon.metrics is enabled. Nil
	// creates a private registry.
	PromRegistry *prom.Registry
}

// Daemon is the long-running orchestrator.
type Daemon struct {
	mu         sync.RWMutex
	cfg        *config.Config
	configPath string
	status     atomic.Value // Status
	startTime  time.Time
	stopChan   chan struct{}

	cache      *fingerprint.Cache
	queue      chan *build.Build
	workers    workerGroup
	exec       *executor.Executor
	registry   *artifact.Registry
	dispatcher *feedback.Dispatcher
	store      eventstore.Store
	ownStore   bool
	projection *eventstore.BuildHistoryProjection
	events     *eventEmitter
	recorder   metrics.Recorder
	workspaces *workspace.Manager

	collabs   map[string]vcs.Collaborator
	sandboxes map[string]*workspace.SandboxPool
	gates     map[string]*gate.Evaluator

	scheduler     *trigger.Scheduler
	pollers       []*trigger.Poller
	httpServer    *httpServer
	configWatcher *configWatcher
	promRegistry  *prom.Registry

	stageTimeout time.Duration

	// lastPromoted tracks the previous promoted revision per pipeline; the
	// diff against it yields the committers addressed on stage failures.
	lastPromoted map[string]revision.Revision
	// committers caches the failure audience per in-flight build.
	committers map[string][]string
}

// New assembles a daemon from validated configuration.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	d := &Daemon{
		cfg:          cfg,
		configPath:   opts.ConfigPath,
		stopChan:     make(chan struct{}),
		queue:        make(chan *build.Build, cfg.Executor.QueueSize),
		collabs:      make(map[string]vcs.Collaborator),
		sandboxes:    make(map[string]*workspace.SandboxPool),
		gates:        make(map[string]*gate.Evaluator),
		lastPromoted: make(map[string]revision.Revision),
		committers:   make(map[string][]string),
		stageTimeout: config.ParseDurationOr(cfg.Executor.StageTimeout, 30*time.Minute),
	}
	d.status.Store(StatusStopped)

	d.recorder = metrics.NoopRecorder{}
	if cfg.Daemon.Metrics {
		reg := opts.PromRegistry
		if reg == nil {
			reg = prom.NewRegistry()
		}
		d.promRegistry = reg
		d.recorder = metrics.NewPrometheusRecorder(reg)
	}

	scope := fingerprint.ScopeFingerprint
	if cfg.Executor.Sequential {
		scope = fingerprint.ScopeGlobal
	}
	d.cache = fingerprint.NewCache(scope)

	store := opts.Store
	if store == nil {
		var err error
		store, err = eventstore.NewSQLiteStore(cfg.EventStore.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open event store: %w", err)
		}
		d.ownStore = true
	}
	d.store = store
	d.projection = eventstore.NewBuildHistoryProjection(store, 100)
	d.events = &eventEmitter{store: store, projection: d.projection}
	if err := d.projection.Rebuild(context.Background()); err != nil {
		// Non-fatal: the projection starts empty and catches up.
		slog.Warn("Failed to rebuild build history projection", logfields.Error(err))
	}

	bindings, err := feedback.BuildBindings(cfg.Channels)
	if err != nil {
		return nil, err
	}
	d.dispatcher = feedback.NewDispatcher(bindings, store, d.recorder)

	blobStore, err := artifact.NewFSStore(cfg.Artifacts.Dir)
	if err != nil {
		return nil, err
	}
	publishPolicy := retry.FromExecutorConfig(cfg.Executor, cfg.Artifacts.PublishRetries)
	d.registry, err = artifact.NewRegistry(blobStore, cfg.Artifacts.Dir, publishPolicy)
	if err != nil {
		return nil, err
	}

	d.workspaces = workspace.NewManager(cfg.Daemon.WorkspaceDir, cfg.Daemon.KeepFailedWorkspaces)

	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]
		collab := opts.Collaborators[p.Name]
		if collab == nil {
			collab = vcs.NewGitCollaborator(p.Repo, filepath.Join(cfg.Daemon.WorkspaceDir, "mirrors", p.Name))
		}
		d.collabs[p.Name] = collab
		if p.Sandbox.Databases > 0 {
			d.sandboxes[p.Name] = workspace.NewSandboxPool(p.Name, p.Sandbox.Databases)
		}
		ev, err := gate.NewEvaluator(p.Gates)
		if err != nil {
			return nil, err
		}
		d.gates[p.Name] = ev
	}

	runner := opts.Runner
	if runner == nil {
		runner = executor.NewExecRunner(config.ParseDurationOr(cfg.Executor.GracePeriod, 10*time.Second))
	}
	stagePolicy := retry.FromExecutorConfig(cfg.Executor, 0)
	d.exec = executor.New(runner, cfg.Executor.Workers, stagePolicy, d.recorder, lifecycleEmitter{d: d})

	d.httpServer = newHTTPServer(d)

	if opts.ConfigPath != "" {
		d.configWatcher, err = newConfigWatcher(opts.ConfigPath, d)
		if err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Start brings all components up and returns once the daemon is serving.
// Builds run on daemon-owned workers until Stop is called or ctx ends.
func (d *Daemon) Start(ctx context.Context) error {
	if d.GetStatus() != StatusStopped {
		return fmt.Errorf("daemon is not in stopped state: %s", d.GetStatus())
	}
	d.status.Store(StatusStarting)
	d.startTime = time.Now()

	slog.Info("Starting ciflow daemon",
		slog.Int("pipelines", len(d.GetConfig().Pipelines)),
		slog.Int("port", d.GetConfig().Daemon.Port))

	if err := d.httpServer.Start(ctx); err != nil {
		d.status.Store(StatusError)
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	for i := 0; i < d.GetConfig().Daemon.ConcurrentBuilds; i++ {
		d.workers.Go(func() { d.workerLoop(ctx) })
	}

	if err := d.startTriggers(); err != nil {
		d.status.Store(StatusError)
		return err
	}

	if d.configWatcher != nil {
		if err := d.configWatcher.Start(ctx); err != nil {
			slog.Error("Failed to start config watcher", logfields.Error(err))
		}
	}

	d.status.Store(StatusRunning)
	slog.Info("Daemon started")
	return nil
}

// Stop gracefully shuts the daemon down: trigger sources first, then the
// build workers (draining the in-flight build), then the outward surfaces.
func (d *Daemon) Stop(ctx context.Context) error {
	current := d.GetStatus()
	if current == StatusStopped || current == StatusStopping {
		return nil
	}
	d.status.Store(StatusStopping)
	slog.Info("Stopping ciflow daemon")

	select {
	case <-d.stopChan:
	default:
		close(d.stopChan)
	}

	if d.configWatcher != nil {
		d.configWatcher.Stop()
	}
	d.stopTriggers()

	if err := d.workers.StopAndWait(ctx); err != nil {
		slog.Warn("Workers did not drain before deadline", logfields.Error(err))
	}

	if err := d.httpServer.Stop(ctx); err != nil {
		slog.Error("Failed to stop HTTP server", logfields.Error(err))
	}

	d.dispatcher.Close()

	if d.ownStore {
		if err := d.store.Close(); err != nil {
			slog.Error("Failed to close event store", logfields.Error(err))
		}
	}

	d.status.Store(StatusStopped)
	slog.Info("Daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return nil
}

// startTriggers boots the scheduler and the pollers declared in config.
func (d *Daemon) startTriggers() error {
	cfg := d.GetConfig()

	sched, err := trigger.NewScheduler(d)
	if err != nil {
		return err
	}
	d.scheduler = sched

	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]
		collab := d.collabs[p.Name]
		if interval := config.ParseDurationOr(p.Triggers.Schedule, 0); interval > 0 {
			if _, err := d.scheduler.SchedulePipeline(p.Name, interval, collab); err != nil {
				return err
			}
		}
		if interval := config.ParseDurationOr(p.Triggers.Poll, 0); interval > 0 {
			poller := trigger.NewPoller(p.Name, interval, collab, d)
			poller.Start()
			d.pollers = append(d.pollers, poller)
		}
	}

	d.scheduler.Start()
	return nil
}

func (d *Daemon) stopTriggers() {
	for _, p := range d.pollers {
		p.Stop()
	}
	d.pollers = nil
	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil {
			slog.Warn("Scheduler shutdown failed", logfields.Error(err))
		}
	}
}

// workerLoop consumes the build queue until shutdown. Builds superseded
// while still queued arrive already terminal and are dropped.
func (d *Daemon) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopChan:
			return
		case b := <-d.queue:
			d.recorder.SetQueueDepth(len(d.queue))
			if b.Terminal() {
				continue
			}
			d.runBuild(ctx, b)
		}
	}
}

// GetStatus returns the current daemon status.
func (d *Daemon) GetStatus() Status {
	status, ok := d.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return status
}

// GetStartTime returns the daemon start time.
func (d *Daemon) GetStartTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.startTime
}

// GetConfig returns the current configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Projection exposes the build history read model.
func (d *Daemon) Projection() *eventstore.BuildHistoryProjection {
	return d.projection
}

// Registry exposes the artifact registry.
func (d *Daemon) Registry() *artifact.Registry {
	return d.registry
}

// QueueLength returns the number of builds waiting for a worker.
func (d *Daemon) QueueLength() int {
	return len(d.queue)
}

// ActiveBuilds returns the currently admitted (queued or running) builds.
func (d *Daemon) ActiveBuilds() []*build.Build {
	return d.cache.Active()
}

// BuildByID finds an admitted build by ID or fingerprint. Terminal builds
// are only reachable through the projection.
func (d *Daemon) BuildByID(id string) (*build.Build, bool) {
	for _, b := range d.cache.Active() {
		if b.ID == id || b.Fingerprint == id {
			return b, true
		}
	}
	return nil, false
}

// ReloadConfig swaps the configuration in for new trigger sources and
// pipeline definitions. The executor tuning and outward surfaces keep their
// boot-time values: those need a restart.
func (d *Daemon) ReloadConfig(newCfg *config.Config) error {
	if newCfg == nil {
		return fmt.Errorf("nil configuration")
	}

	d.stopTriggers()

	d.mu.Lock()
	d.cfg = newCfg
	for i := range newCfg.Pipelines {
		p := &newCfg.Pipelines[i]
		if _, ok := d.collabs[p.Name]; !ok {
			d.collabs[p.Name] = vcs.NewGitCollaborator(p.Repo,
				filepath.Join(newCfg.Daemon.WorkspaceDir, "mirrors", p.Name))
		}
		if _, ok := d.sandboxes[p.Name]; !ok && p.Sandbox.Databases > 0 {
			d.sandboxes[p.Name] = workspace.NewSandboxPool(p.Name, p.Sandbox.Databases)
		}
		ev, err := gate.NewEvaluator(p.Gates)
		if err != nil {
			d.mu.Unlock()
			return err
		}
		d.gates[p.Name] = ev
	}
	d.mu.Unlock()

	if err := d.startTriggers(); err != nil {
		return err
	}

	slog.Info("Configuration reloaded", slog.Int("pipelines", len(newCfg.Pipelines)))
	return nil
}
