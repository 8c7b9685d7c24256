package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/eventstore"
	"github.com/Notoriousjayy/CIFlowDocs/internal/feedback"
	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
)

// eventEmitter persists events to the store and keeps the history projection
// in sync. Persistence failures are logged but never reach the build path: a
// broken audit trail must not fail builds.
type eventEmitter struct {
	store      eventstore.Store
	projection *eventstore.BuildHistoryProjection
}

// Emit appends the event and applies it to the projection. The (ev, err)
// pair matches the event constructors so call sites stay one line.
func (e *eventEmitter) Emit(ctx context.Context, ev eventstore.Event, err error) {
	if err != nil {
		slog.Warn("Dropping malformed event", logfields.Error(err))
		return
	}
	if ev == nil {
		return
	}
	if appendErr := e.store.Append(ctx, ev.BuildID(), ev.Pipeline(), ev.Type(), ev.Payload(), ev.Metadata()); appendErr != nil {
		slog.Warn("Failed to append event",
			logfields.BuildID(ev.BuildID()), slog.String("type", ev.Type()), logfields.Error(appendErr))
	}
	e.projection.Apply(ev)
}

// lifecycleEmitter bridges executor lifecycle notifications to the event
// store and the feedback dispatcher.
type lifecycleEmitter struct {
	d *Daemon
}

func (l lifecycleEmitter) BuildStarted(b *build.Build, stageCount int) {
	ctx := context.Background()
	ev, err := eventstore.NewBuildStarted(b.ID, b.Pipeline, b.Revision.String(), stageCount)
	l.d.events.Emit(ctx, ev, err)

	l.d.dispatcher.Dispatch(feedback.Event{
		Kind:     feedback.KindBuildStarted,
		BuildID:  b.ID,
		Pipeline: b.Pipeline,
		Revision: b.Revision.String(),
		Summary:  fmt.Sprintf("build started (%d stages)", stageCount),
		Time:     time.Now(),
	})
}

func (l lifecycleEmitter) StageFinished(b *build.Build, r build.StageResult) {
	ctx := context.Background()
	ev, err := eventstore.NewStageFinished(b.ID, b.Pipeline, r.Stage, string(r.Outcome),
		time.Duration(r.Metrics.DurationMS)*time.Millisecond, r.Retries)
	l.d.events.Emit(ctx, ev, err)

	// Passing stages are audit-only noise for notification channels; only
	// failures fan out, addressed to the committers of the revision range.
	if !r.Outcome.Failed() {
		return
	}
	fields := map[string]string{"stage": r.Stage}
	if r.Error != "" {
		fields["error"] = r.Error
	}
	if r.LogRef != "" {
		fields["log"] = r.LogRef
	}
	l.d.dispatcher.Dispatch(feedback.Event{
		Kind:     feedback.KindStageFinished,
		BuildID:  b.ID,
		Pipeline: b.Pipeline,
		Revision: b.Revision.String(),
		Summary:  fmt.Sprintf("stage %s %s", r.Stage, r.Outcome),
		Audience: l.d.failureAudience(b),
		Fields:   fields,
		Time:     time.Now(),
	})
}
