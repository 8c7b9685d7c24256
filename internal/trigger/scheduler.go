package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
	"github.com/Notoriousjayy/CIFlowDocs/internal/vcs"
)

// Scheduler fires builds on fixed intervals. Each scheduled pipeline
// resolves its current head at fire time, so a scheduled build always builds
// the latest revision.
type Scheduler struct {
	scheduler gocron.Scheduler
	submitter Submitter
}

// NewScheduler creates a scheduler around a gocron instance.
func NewScheduler(submitter Submitter) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, submitter: submitter}, nil
}

// SchedulePipeline registers a periodic build for the pipeline. Returns the
// job ID for later management.
func (s *Scheduler) SchedulePipeline(pipeline string, interval time.Duration, collab vcs.Collaborator) (string, error) {
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.fire, pipeline, collab),
		gocron.WithName(pipeline+"-schedule"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create scheduled build job: %w", err)
	}
	return job.ID().String(), nil
}

// fire is called by gocron when a schedule elapses.
func (s *Scheduler) fire(pipeline string, collab vcs.Collaborator) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	head, err := collab.Head(ctx)
	if err != nil {
		slog.Warn("Scheduled trigger could not resolve head",
			logfields.Pipeline(pipeline), logfields.Error(err))
		return
	}

	slog.Info("Scheduled trigger fired",
		logfields.Pipeline(pipeline), logfields.Revision(head.String()))
	req := NewRequest(pipeline, head, build.TriggerScheduled)
	if err := s.submitter.Submit(ctx, req); err != nil {
		slog.Warn("Scheduled build rejected",
			logfields.Pipeline(pipeline), logfields.Error(err))
	}
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	slog.Info("Starting trigger scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts the scheduler down.
func (s *Scheduler) Stop() error {
	slog.Info("Stopping trigger scheduler")
	return s.scheduler.Shutdown()
}
