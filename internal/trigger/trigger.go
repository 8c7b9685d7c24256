// Package trigger turns the automatic build sources (schedules and
// repository polling) into build requests. All sources normalize to the same
// request shape; admission and dedup happen downstream.
package trigger

import (
	"context"
	"time"

	"github.com/Notoriousjayy/CIFlowDocs/internal/build"
	"github.com/Notoriousjayy/CIFlowDocs/internal/revision"
)

// Submitter accepts normalized build requests. The daemon's admission path
// implements it.
type Submitter interface {
	Submit(ctx context.Context, req build.Request) error
}

// NewRequest normalizes one trigger firing into a build request.
func NewRequest(pipeline string, rev revision.Revision, kind build.TriggerKind) build.Request {
	return build.Request{
		Pipeline:  pipeline,
		Revision:  rev,
		Trigger:   kind,
		Priority:  build.PriorityNormal,
		CreatedAt: time.Now(),
	}
}
