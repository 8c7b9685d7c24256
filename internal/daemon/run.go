package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Notoriousjayy/CIFlowDocs/internal/artifact"
	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/config"
	derrors "github.com/Notoriousjayy/CIFlowDocs/internal/errors"
	"github.com/Notoriousjayy/CIFlowDocs/internal/eventstore"
	"github.com/Notoriousjayy/CIFlowDocs/internal/executor"
	"github.com/Notoriousjayy/CIFlowDocs/internal/feedback"
	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
	"github.com/Notoriousjayy/CIFlowDocs/internal/revision"
	"github.com/Notoriousjayy/CIFlowDocs/internal/stagegraph"
	"github.com/Notoriousjayy/CIFlowDocs/internal/vcs"
)

// runBuild drives one admitted build end to end: workspace, checkout,
// graph resolution, execution, then the terminal bookkeeping for whichever
// state the build ended in.
func (d *Daemon) runBuild(ctx context.Context, b *build.Build) {
	defer d.cache.Evict(b.Fingerprint)
	defer d.clearCommitters(b.ID)

	p := d.GetConfig().PipelineByName(b.Pipeline)
	if p == nil {
		// Pipeline removed by a config reload while the build sat queued.
		d.failBeforeRun(ctx, b, "", derrors.ValidationFailed("pipeline", "pipeline no longer configured"))
		return
	}

	checkout, err := d.workspaces.Acquire(b.ID)
	if err != nil {
		d.failBeforeRun(ctx, b, "", derrors.InternalError("workspace acquisition failed", err))
		return
	}
	failed := false
	defer func() {
		if relErr := checkout.Release(failed); relErr != nil {
			slog.Warn("Workspace release failed", logfields.BuildID(b.ID), logfields.Error(relErr))
		}
	}()

	collab := d.collabs[b.Pipeline]
	if err := collab.Materialize(ctx, b.Revision, checkout.Path); err != nil {
		failed = true
		d.failBeforeRun(ctx, b, "", derrors.VCSError("materialize", err))
		return
	}

	d.resolveCommitters(ctx, b, collab, p.Owner)

	stages := stagegraph.FromConfig(p, d.stageTimeout)
	batches, err := stagegraph.Resolve(b.Pipeline, stages, b.Request.Stages)
	if err != nil {
		failed = true
		d.failBeforeRun(ctx, b, "", err)
		return
	}

	env := executor.Env{
		WorkDir:   checkout.Path,
		Sandboxes: d.sandboxes[b.Pipeline],
		Gates:     d.gates[b.Pipeline],
	}
	status, execErr := d.exec.Execute(ctx, b, batches, env)

	switch status {
	case build.StatusPromoted:
		d.promote(ctx, b, p, collab, checkout.Path)
	case build.StatusFailed:
		failed = true
		d.finishFailed(ctx, b)
	case build.StatusBlocked:
		failed = true
		d.finishBlocked(ctx, b, execErr)
	case build.StatusCancelled:
		reason := b.CancelReason()
		if reason == "" {
			// No explicit Cancel call means the worker context itself was
			// torn down, i.e. the daemon is shutting down.
			reason = "daemon shutdown"
		}
		// The worker ctx may already be done here; the terminal event must
		// still be recorded.
		d.finishCancelled(context.Background(), b, reason)
	}
}

// promote publishes the artifact, tags the revision and fans the promotion
// out. Publish failures are logged loudly but cannot un-promote the build:
// the verification verdict stands, only the archival is degraded.
func (d *Daemon) promote(ctx context.Context, b *build.Build, p *config.Pipeline, collab vcs.Collaborator, workDir string) {
	content, closeFn, err := d.artifactContent(b, p, workDir)
	if err != nil {
		slog.Error("Artifact content unavailable, skipping publication",
			logfields.BuildID(b.ID), logfields.Error(err))
		d.announcePromotion(ctx, b, "")
		return
	}
	defer closeFn()

	rec, err := d.registry.Publish(ctx, b, p.Label, content)
	if err != nil {
		slog.Error("Artifact publication failed",
			logfields.BuildID(b.ID), logfields.Pipeline(b.Pipeline), logfields.Error(err))
		d.announcePromotion(ctx, b, "")
		return
	}

	if lbl, perr := revision.ParseLabel(rec.Label); perr == nil {
		if tagErr := collab.TagLabel(ctx, b.Revision, lbl); tagErr != nil {
			slog.Warn("Failed to tag revision with label",
				logfields.BuildID(b.ID), logfields.Label(rec.Label), logfields.Error(tagErr))
		}
	}

	ev, everr := eventstore.NewArtifactPublished(b.ID, b.Pipeline, rec.Label, b.Revision.String())
	d.events.Emit(ctx, ev, everr)

	d.mu.Lock()
	d.lastPromoted[b.Pipeline] = b.Revision
	d.mu.Unlock()

	d.announcePromotion(ctx, b, rec.Label)
}

// announcePromotion records the promotion event and broadcasts it. The label
// is empty when publication was skipped or failed.
func (d *Daemon) announcePromotion(ctx context.Context, b *build.Build, label string) {
	ev, err := eventstore.NewBuildPromoted(b.ID, b.Pipeline, b.Revision.String(), label)
	d.events.Emit(ctx, ev, err)

	summary := "build promoted"
	if label != "" {
		summary = "build promoted as " + label
	}
	d.dispatcher.Dispatch(feedback.Event{
		Kind:     feedback.KindBuildPromoted,
		BuildID:  b.ID,
		Pipeline: b.Pipeline,
		Revision: b.Revision.String(),
		Label:    label,
		Summary:  summary,
		Time:     time.Now(),
	})
}

// artifactContent opens the configured build output, falling back to the
// build manifest when the pipeline declares none.
func (d *Daemon) artifactContent(b *build.Build, p *config.Pipeline, workDir string) (io.Reader, func(), error) {
	if p.Artifact != "" {
		f, err := os.Open(filepath.Join(workDir, p.Artifact))
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	}
	manifest, err := json.Marshal(b.Snapshot())
	if err != nil {
		return nil, nil, err
	}
	return bytes.NewReader(manifest), func() {}, nil
}

func (d *Daemon) finishFailed(ctx context.Context, b *build.Build) {
	stage, errMsg := "", ""
	if r, ok := b.FirstFailure(); ok {
		stage = r.Stage
		errMsg = r.Error
		if errMsg == "" {
			errMsg = string(r.Outcome)
		}
	}
	ev, err := eventstore.NewBuildFailed(b.ID, b.Pipeline, stage, errMsg)
	d.events.Emit(ctx, ev, err)

	d.dispatcher.Dispatch(feedback.Event{
		Kind:     feedback.KindBuildFailed,
		BuildID:  b.ID,
		Pipeline: b.Pipeline,
		Revision: b.Revision.String(),
		Summary:  "build failed at stage " + stage,
		Audience: d.failureAudience(b),
		Fields:   map[string]string{"stage": stage, "error": errMsg},
		Time:     time.Now(),
	})
}

func (d *Daemon) finishBlocked(ctx context.Context, b *build.Build, execErr error) {
	gateName, reason := blockedDetail(execErr)
	ev, err := eventstore.NewBuildBlocked(b.ID, b.Pipeline, gateName, reason)
	d.events.Emit(ctx, ev, err)

	d.dispatcher.Dispatch(feedback.Event{
		Kind:     feedback.KindBuildBlocked,
		BuildID:  b.ID,
		Pipeline: b.Pipeline,
		Revision: b.Revision.String(),
		Summary:  "promotion blocked by gate " + gateName,
		Audience: d.failureAudience(b),
		Fields:   map[string]string{"gate": gateName, "reason": reason},
		Time:     time.Now(),
	})
}

func (d *Daemon) finishCancelled(ctx context.Context, b *build.Build, reason string) {
	ev, err := eventstore.NewBuildCancelled(b.ID, b.Pipeline, reason)
	d.events.Emit(ctx, ev, err)

	d.dispatcher.Dispatch(feedback.Event{
		Kind:     feedback.KindBuildCancelled,
		BuildID:  b.ID,
		Pipeline: b.Pipeline,
		Revision: b.Revision.String(),
		Summary:  "build cancelled: " + reason,
		Time:     time.Now(),
	})
}

// failBeforeRun finishes a build that never reached the executor.
func (d *Daemon) failBeforeRun(ctx context.Context, b *build.Build, stage string, cause error) {
	slog.Error("Build failed before execution",
		logfields.BuildID(b.ID), logfields.Pipeline(b.Pipeline), logfields.Error(cause))
	if err := b.Finish(build.StatusFailed); err != nil {
		return
	}
	d.recorder.IncBuildOutcome(b.Pipeline, string(build.StatusFailed))

	ev, err := eventstore.NewBuildFailed(b.ID, b.Pipeline, stage, cause.Error())
	d.events.Emit(ctx, ev, err)

	d.dispatcher.Dispatch(feedback.Event{
		Kind:     feedback.KindBuildFailed,
		BuildID:  b.ID,
		Pipeline: b.Pipeline,
		Revision: b.Revision.String(),
		Summary:  "build failed before execution",
		Audience: d.failureAudience(b),
		Fields:   map[string]string{"error": cause.Error()},
		Time:     time.Now(),
	})
}

// Rollback repoints a pipeline's active artifact and records the operation.
func (d *Daemon) Rollback(ctx context.Context, pipeline, label string) (artifact.Record, error) {
	prev, _ := d.registry.Active(pipeline)
	rec, err := d.registry.Rollback(pipeline, label)
	if err != nil {
		return rec, err
	}

	ev, everr := eventstore.NewRolledBack(rec.BuildID, pipeline, prev.Label, rec.Label)
	d.events.Emit(ctx, ev, everr)

	d.dispatcher.Dispatch(feedback.Event{
		Kind:     feedback.KindRolledBack,
		BuildID:  rec.BuildID,
		Pipeline: pipeline,
		Label:    rec.Label,
		Summary:  "active artifact rolled back to " + rec.Label,
		Fields:   map[string]string{"from": prev.Label, "to": rec.Label},
		Time:     time.Now(),
	})
	return rec, nil
}

// DiffLabels computes the changeset between two published labels. Label
// resolution happens in the registry; the file diff is the collaborator's.
func (d *Daemon) DiffLabels(ctx context.Context, pipeline, from, to string) (vcs.Changeset, error) {
	collab, ok := d.collabs[pipeline]
	if !ok {
		return vcs.Changeset{}, derrors.ValidationFailed("pipeline",
			fmt.Sprintf("unknown pipeline %q", pipeline))
	}
	fromRec, err := d.registry.Lookup(pipeline, from)
	if err != nil {
		return vcs.Changeset{}, err
	}
	toRec, err := d.registry.Lookup(pipeline, to)
	if err != nil {
		return vcs.Changeset{}, err
	}
	return collab.Diff(ctx, fromRec.Revision, toRec.Revision)
}

// resolveCommitters computes the failure audience for a build: the authors
// of the changeset since the last promoted revision, with the pipeline
// owner as fallback when there is no previous promotion to diff against.
func (d *Daemon) resolveCommitters(ctx context.Context, b *build.Build, collab vcs.Collaborator, owner string) {
	var authors []string
	d.mu.RLock()
	prev := d.lastPromoted[b.Pipeline]
	d.mu.RUnlock()

	if !prev.IsZero() && prev.Hash != b.Revision.Hash {
		cs, err := collab.Diff(ctx, prev, b.Revision)
		if err != nil {
			slog.Debug("Changeset resolution failed, using owner audience",
				logfields.BuildID(b.ID), logfields.Error(err))
		} else {
			authors = cs.Authors
		}
	}
	if len(authors) == 0 && owner != "" {
		authors = []string{owner}
	}

	d.mu.Lock()
	d.committers[b.ID] = authors
	d.mu.Unlock()
}

func (d *Daemon) failureAudience(b *build.Build) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if audience, ok := d.committers[b.ID]; ok {
		return audience
	}
	if p := d.cfg.PipelineByName(b.Pipeline); p != nil && p.Owner != "" {
		return []string{p.Owner}
	}
	return nil
}

func (d *Daemon) clearCommitters(buildID string) {
	d.mu.Lock()
	delete(d.committers, buildID)
	d.mu.Unlock()
}

// blockedDetail extracts the gate name and reason from an executor error.
func blockedDetail(err error) (string, string) {
	var perr *derrors.PipelineError
	if !errors.As(err, &perr) {
		return "", ""
	}
	gateName, _ := perr.Context["gate"].(string)
	reason, _ := perr.Context["reason"].(string)
	return gateName, reason
}
