package eventstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event type name constants. The history projection and feedback audit trail
// dispatch on these.
const (
	TypeBuildQueued       = "BuildQueued"
	TypeBuildStarted      = "BuildStarted"
	TypeStageFinished     = "StageFinished"
	TypeBuildFailed       = "BuildFailed"
	TypeBuildBlocked      = "BuildBlocked"
	TypeBuildPromoted     = "BuildPromoted"
	TypeBuildCancelled    = "BuildCancelled"
	TypeArtifactPublished = "ArtifactPublished"
	TypeRolledBack        = "RolledBack"
	TypeFeedbackSent      = "FeedbackSent"
)

// BuildQueued is emitted when a build request passes admission.
type BuildQueued struct {
	BaseEvent
	Fingerprint string `json:"fingerprint"`
	Revision    string `json:"revision"`
	Trigger     string `json:"trigger"`
}

// NewBuildQueued creates a BuildQueued event.
func NewBuildQueued(buildID, pipeline, fingerprint, revision, trigger string) (*BuildQueued, error) {
	payload, err := json.Marshal(map[string]any{
		"fingerprint": fingerprint,
		"revision":    revision,
		"trigger":     trigger,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal BuildQueued payload: %w", err)
	}
	return &BuildQueued{
		BaseEvent: BaseEvent{
			EventBuildID:   buildID,
			EventPipeline:  pipeline,
			EventType:      TypeBuildQueued,
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		Fingerprint: fingerprint,
		Revision:    revision,
		Trigger:     trigger,
	}, nil
}

// BuildStarted is emitted when a worker picks a build up.
type BuildStarted struct {
	BaseEvent
	Revision string `json:"revision"`
	Stages   int    `json:"stages"`
}

// NewBuildStarted creates a BuildStarted event.
func NewBuildStarted(buildID, pipeline, revision string, stages int) (*BuildStarted, error) {
	payload, err := json.Marshal(map[string]any{
		"revision": revision,
		"stages":   stages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal BuildStarted payload: %w", err)
	}
	return &BuildStarted{
		BaseEvent: BaseEvent{
			EventBuildID:   buildID,
			EventPipeline:  pipeline,
			EventType:      TypeBuildStarted,
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		Revision: revision,
		Stages:   stages,
	}, nil
}

// StageFinished is emitted once per stage execution, including retries.
type StageFinished struct {
	BaseEvent
	Stage    string `json:"stage"`
	Outcome  string `json:"outcome"`
	Duration int64  `json:"duration_ms"`
	Retries  int    `json:"retries"`
}

// NewStageFinished creates a StageFinished event.
func NewStageFinished(buildID, pipeline, stage, outcome string, duration time.Duration, retries int) (*StageFinished, error) {
	payload, err := json.Marshal(map[string]any{
		"stage":       stage,
		"outcome":     outcome,
		"duration_ms": duration.Milliseconds(),
		"retries":     retries,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal StageFinished payload: %w", err)
	}
	return &StageFinished{
		BaseEvent: BaseEvent{
			EventBuildID:   buildID,
			EventPipeline:  pipeline,
			EventType:      TypeStageFinished,
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		Stage:    stage,
		Outcome:  outcome,
		Duration: duration.Milliseconds(),
		Retries:  retries,
	}, nil
}

// BuildFailed is emitted when a stage fails or times out and the build ends.
type BuildFailed struct {
	BaseEvent
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// NewBuildFailed creates a BuildFailed event.
func NewBuildFailed(buildID, pipeline, stage, errMsg string) (*BuildFailed, error) {
	payload, err := json.Marshal(map[string]any{
		"stage": stage,
		"error": errMsg,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal BuildFailed payload: %w", err)
	}
	return &BuildFailed{
		BaseEvent: BaseEvent{
			EventBuildID:   buildID,
			EventPipeline:  pipeline,
			EventType:      TypeBuildFailed,
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		Stage: stage,
		Error: errMsg,
	}, nil
}

// BuildBlocked is emitted when all stages pass but a gate blocks promotion.
type BuildBlocked struct {
	BaseEvent
	Gate   string `json:"gate"`
	Reason string `json:"reason"`
}

// NewBuildBlocked creates a BuildBlocked event.
func NewBuildBlocked(buildID, pipeline, gate, reason string) (*BuildBlocked, error) {
	payload, err := json.Marshal(map[string]any{
		"gate":   gate,
		"reason": reason,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal BuildBlocked payload: %w", err)
	}
	return &BuildBlocked{
		BaseEvent: BaseEvent{
			EventBuildID:   buildID,
			EventPipeline:  pipeline,
			EventType:      TypeBuildBlocked,
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		Gate:   gate,
		Reason: reason,
	}, nil
}

// BuildPromoted is emitted when every stage and gate passed.
type BuildPromoted struct {
	BaseEvent
	Revision string `json:"revision"`
	Label    string `json:"label"`
}

// NewBuildPromoted creates a BuildPromoted event.
func NewBuildPromoted(buildID, pipeline, revision, label string) (*BuildPromoted, error) {
	payload, err := json.Marshal(map[string]any{
		"revision": revision,
		"label":    label,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal BuildPromoted payload: %w", err)
	}
	return &BuildPromoted{
		BaseEvent: BaseEvent{
			EventBuildID:   buildID,
			EventPipeline:  pipeline,
			EventType:      TypeBuildPromoted,
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		Revision: revision,
		Label:    label,
	}, nil
}

// BuildCancelled is emitted when a build is superseded or cancelled by hand.
type BuildCancelled struct {
	BaseEvent
	Reason string `json:"reason"`
}

// NewBuildCancelled creates a BuildCancelled event.
func NewBuildCancelled(buildID, pipeline, reason string) (*BuildCancelled, error) {
	payload, err := json.Marshal(map[string]any{"reason": reason})
	if err != nil {
		return nil, fmt.Errorf("marshal BuildCancelled payload: %w", err)
	}
	return &BuildCancelled{
		BaseEvent: BaseEvent{
			EventBuildID:   buildID,
			EventPipeline:  pipeline,
			EventType:      TypeBuildCancelled,
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		Reason: reason,
	}, nil
}

// ArtifactPublished is emitted when a promoted build's artifact lands in the
// registry.
type ArtifactPublished struct {
	BaseEvent
	Label    string `json:"label"`
	Revision string `json:"revision"`
}

// NewArtifactPublished creates an ArtifactPublished event.
func NewArtifactPublished(buildID, pipeline, label, revision string) (*ArtifactPublished, error) {
	payload, err := json.Marshal(map[string]any{
		"label":    label,
		"revision": revision,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ArtifactPublished payload: %w", err)
	}
	return &ArtifactPublished{
		BaseEvent: BaseEvent{
			EventBuildID:   buildID,
			EventPipeline:  pipeline,
			EventType:      TypeArtifactPublished,
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		Label:    label,
		Revision: revision,
	}, nil
}

// RolledBack is emitted when the active artifact pointer is repointed to an
// earlier label.
type RolledBack struct {
	BaseEvent
	FromLabel string `json:"from_label"`
	ToLabel   string `json:"to_label"`
}

// NewRolledBack creates a RolledBack event. Rollbacks are pipeline-scoped,
// not build-scoped; buildID carries the label owner's build when known.
func NewRolledBack(buildID, pipeline, fromLabel, toLabel string) (*RolledBack, error) {
	payload, err := json.Marshal(map[string]any{
		"from_label": fromLabel,
		"to_label":   toLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal RolledBack payload: %w", err)
	}
	return &RolledBack{
		BaseEvent: BaseEvent{
			EventBuildID:   buildID,
			EventPipeline:  pipeline,
			EventType:      TypeRolledBack,
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		FromLabel: fromLabel,
		ToLabel:   toLabel,
	}, nil
}

// FeedbackSent records a delivered (or dropped) feedback notification for the
// audit trail.
type FeedbackSent struct {
	BaseEvent
	Channel   string `json:"channel"`
	Kind      string `json:"kind"`
	Delivered bool   `json:"delivered"`
}

// NewFeedbackSent creates a FeedbackSent event.
func NewFeedbackSent(buildID, pipeline, channel, kind string, delivered bool) (*FeedbackSent, error) {
	payload, err := json.Marshal(map[string]any{
		"channel":   channel,
		"kind":      kind,
		"delivered": delivered,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal FeedbackSent payload: %w", err)
	}
	return &FeedbackSent{
		BaseEvent: BaseEvent{
			EventBuildID:   buildID,
			EventPipeline:  pipeline,
			EventType:      TypeFeedbackSent,
			EventTimestamp: time.Now(),
			EventPayload:   payload,
		},
		Channel:   channel,
		Kind:      kind,
		Delivered: delivered,
	}, nil
}
