package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/config"
	derrors "github.com/Notoriousjayy/CIFlowDocs/internal/errors"
	"github.com/Notoriousjayy/CIFlowDocs/internal/eventstore"
	"github.com/Notoriousjayy/CIFlowDocs/internal/feedback"
	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
)

// Submit implements the trigger contract over the admission path.
func (d *Daemon) Submit(ctx context.Context, req build.Request) error {
	_, err := d.Admit(ctx, req)
	return err
}

// Admit runs a build request through admission: fingerprint dedup, then
// supersession of older in-flight builds on the same branch, then the queue.
// A request that collapses onto an in-flight build returns that build's
// handle, so every requester observes the same terminal result.
func (d *Daemon) Admit(ctx context.Context, req build.Request) (*build.Build, error) {
	p := d.GetConfig().PipelineByName(req.Pipeline)
	if p == nil {
		return nil, derrors.ValidationFailed("pipeline", "unknown pipeline "+req.Pipeline)
	}

	if req.Revision.IsZero() || req.Revision.Hash == "" {
		head, err := d.collabs[req.Pipeline].Head(ctx)
		if err != nil {
			return nil, derrors.VCSError("head", err)
		}
		req.Revision = head
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	adm := d.cache.Admit(req, stageEnv(p, req.Stages))
	if !adm.Accepted {
		d.recorder.IncDedupHit(req.Pipeline)
		slog.Info("Build request collapsed onto in-flight build",
			logfields.Pipeline(req.Pipeline),
			logfields.BuildID(adm.Build.ID),
			logfields.Fingerprint(adm.Build.Fingerprint))
		return adm.Build, nil
	}

	b := adm.Build
	d.supersede(b)

	ev, err := eventstore.NewBuildQueued(b.ID, b.Pipeline, b.Fingerprint,
		b.Revision.String(), string(req.Trigger))
	d.events.Emit(ctx, ev, err)
	d.dispatcher.Dispatch(feedback.Event{
		Kind:     feedback.KindBuildQueued,
		BuildID:  b.ID,
		Pipeline: b.Pipeline,
		Revision: b.Revision.String(),
		Summary:  "build queued (" + string(req.Trigger) + ")",
		Time:     time.Now(),
	})

	select {
	case d.queue <- b:
		d.recorder.SetQueueDepth(len(d.queue))
	default:
		d.cache.Evict(b.Fingerprint)
		_ = b.Finish(build.StatusCancelled)
		return nil, derrors.InternalError("build queue full", nil)
	}

	slog.Info("Build admitted",
		logfields.BuildID(b.ID), logfields.Pipeline(b.Pipeline),
		logfields.Revision(b.Revision.String()), logfields.Trigger(string(req.Trigger)))
	return b, nil
}

// supersede cancels older in-flight builds of the same pipeline and branch:
// the newly admitted revision makes their result obsolete. Queued builds
// finish immediately; running ones get cooperative cancellation and their
// worker records the terminal state.
func (d *Daemon) supersede(newb *build.Build) {
	for _, other := range d.cache.ActiveForPipeline(newb.Pipeline) {
		if other.ID == newb.ID || other.Revision.Ref != newb.Revision.Ref {
			continue
		}
		if !other.Request.CreatedAt.Before(newb.Request.CreatedAt) {
			continue
		}
		slog.Info("Superseding in-flight build",
			logfields.BuildID(other.ID),
			logfields.Revision(other.Revision.String()),
			slog.String("superseded_by", newb.ID))
		if other.Status() == build.StatusQueued {
			if err := other.Finish(build.StatusCancelled); err != nil {
				continue
			}
			d.cache.Evict(other.Fingerprint)
			d.finishCancelled(context.Background(), other, "superseded by "+newb.ID)
		} else {
			other.Cancel("superseded by " + newb.ID)
		}
	}
}

// stageEnv merges the env blocks of the stages a request selects; it feeds
// the fingerprint so config changes invalidate dedup.
func stageEnv(p *config.Pipeline, requested []string) map[string]string {
	selected := make(map[string]bool, len(requested))
	for _, name := range requested {
		selected[name] = true
	}
	env := make(map[string]string)
	for i := range p.Stages {
		s := &p.Stages[i]
		if len(requested) > 0 && !selected[s.Name] {
			continue
		}
		for k, v := range s.Env {
			env[k] = v
		}
	}
	return env
}
