// Package feedback dispatches build lifecycle notifications to pluggable
// channels. Delivery is best-effort: a failing channel never affects build
// outcomes or the other channels, and ordering is only guaranteed per
// channel, not across them.
package feedback

import (
	"context"
	"time"
)

// Kind identifies the lifecycle moment a notification reports.
type Kind string

const (
	KindBuildQueued    Kind = "build-queued"
	KindBuildStarted   Kind = "build-started"
	KindStageFinished  Kind = "stage-finished"
	KindBuildFailed    Kind = "build-failed"
	KindBuildBlocked   Kind = "build-blocked"
	KindBuildPromoted  Kind = "build-promoted"
	KindBuildCancelled Kind = "build-cancelled"
	KindRolledBack     Kind = "rolled-back"
)

// Event is one notification. Audience lists the roles or committer addresses
// the event targets; an empty audience means broadcast.
type Event struct {
	Kind     Kind              `json:"kind"`
	BuildID  string            `json:"build_id"`
	Pipeline string            `json:"pipeline"`
	Revision string            `json:"revision,omitempty"`
	Label    string            `json:"label,omitempty"`
	Summary  string            `json:"summary"`
	Body     string            `json:"body,omitempty"` // Markdown detail
	Audience []string          `json:"audience,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Time     time.Time         `json:"time"`
}

// Broadcast reports whether the event targets everyone.
func (e Event) Broadcast() bool { return len(e.Audience) == 0 }

// Channel delivers events to one destination. Send must respect ctx and
// return an error on delivery failure; the dispatcher handles logging,
// metrics and isolation.
type Channel interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}
