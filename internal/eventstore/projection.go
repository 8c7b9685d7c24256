// Package eventstore provides the append-only audit log for build tracking.
package eventstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// BuildSummary is a read model summarizing a queued, running or finished
// build, reconstructed purely from events.
type BuildSummary struct {
	BuildID       string        `json:"build_id"`
	Pipeline      string        `json:"pipeline"`
	Status        string        `json:"status"` // queued, running, promoted, failed, blocked, cancelled
	Fingerprint   string        `json:"fingerprint,omitempty"`
	Revision      string        `json:"revision,omitempty"`
	Trigger       string        `json:"trigger,omitempty"`
	Label         string        `json:"label,omitempty"`
	QueuedAt      time.Time     `json:"queued_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
	StageCount    int           `json:"stage_count"`
	ErrorStage    string        `json:"error_stage,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	BlockedGate   string        `json:"blocked_gate,omitempty"`
	BlockedReason string        `json:"blocked_reason,omitempty"`
	CancelReason  string        `json:"cancel_reason,omitempty"`
}

func (s *BuildSummary) terminal() bool {
	switch s.Status {
	case "promoted", "failed", "blocked", "cancelled":
		return true
	}
	return false
}

// BuildHistoryProjection maintains an in-memory view of build history,
// reconstructed from events stored in the event store.
type BuildHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	builds   map[string]*BuildSummary // buildID -> summary
	history  []*BuildSummary          // ordered by queue time, newest first
	maxSize  int
	lastSync time.Time
}

// NewBuildHistoryProjection creates a new projection backed by the given store.
func NewBuildHistoryProjection(store Store, maxHistorySize int) *BuildHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	return &BuildHistoryProjection{
		store:   store,
		builds:  make(map[string]*BuildSummary),
		history: make([]*BuildSummary, 0, maxHistorySize),
		maxSize: maxHistorySize,
	}
}

// Rebuild reconstructs the projection from all events in the store.
// This is typically called at startup.
func (p *BuildHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.builds = make(map[string]*BuildSummary)
	p.history = make([]*BuildSummary, 0, p.maxSize)

	for _, event := range events {
		p.applyEventLocked(event)
	}

	p.sortHistoryLocked()
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneBuildsLocked()

	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event and updates the projection.
// This is used for real-time updates when events are emitted.
func (p *BuildHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
}

func (p *BuildHistoryProjection) applyEventLocked(event Event) {
	buildID := event.BuildID()
	if buildID == "" {
		return
	}

	summary, exists := p.builds[buildID]
	if !exists {
		summary = &BuildSummary{
			BuildID:  buildID,
			Pipeline: event.Pipeline(),
			Status:   "queued",
			QueuedAt: event.Timestamp(),
		}
		p.builds[buildID] = summary
	}

	switch event.Type() {
	case TypeBuildQueued:
		summary.QueuedAt = event.Timestamp()
		summary.Status = "queued"
		var payload struct {
			Fingerprint string `json:"fingerprint"`
			Revision    string `json:"revision"`
			Trigger     string `json:"trigger"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.Fingerprint = payload.Fingerprint
			summary.Revision = payload.Revision
			summary.Trigger = payload.Trigger
		}

	case TypeBuildStarted:
		now := event.Timestamp()
		summary.StartedAt = &now
		summary.Status = "running"
		var payload struct {
			Revision string `json:"revision"`
			Stages   int    `json:"stages"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			if payload.Revision != "" {
				summary.Revision = payload.Revision
			}
			summary.StageCount = payload.Stages
		}

	case TypeBuildFailed:
		p.finishLocked(summary, event, "failed")
		var payload struct {
			Stage string `json:"stage"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.ErrorStage = payload.Stage
			summary.ErrorMessage = payload.Error
		}

	case TypeBuildBlocked:
		p.finishLocked(summary, event, "blocked")
		var payload struct {
			Gate   string `json:"gate"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.BlockedGate = payload.Gate
			summary.BlockedReason = payload.Reason
		}

	case TypeBuildPromoted:
		p.finishLocked(summary, event, "promoted")
		var payload struct {
			Label string `json:"label"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.Label = payload.Label
		}

	case TypeBuildCancelled:
		p.finishLocked(summary, event, "cancelled")
		var payload struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.CancelReason = payload.Reason
		}

	case TypeArtifactPublished:
		var payload struct {
			Label string `json:"label"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.Label = payload.Label
		}
	}
}

func (p *BuildHistoryProjection) finishLocked(summary *BuildSummary, event Event, status string) {
	now := event.Timestamp()
	summary.CompletedAt = &now
	start := summary.QueuedAt
	if summary.StartedAt != nil {
		start = *summary.StartedAt
	}
	summary.Duration = now.Sub(start)
	summary.Status = status
	p.addToHistoryLocked(summary)
}

// addToHistoryLocked adds a finished build to history if not already present.
func (p *BuildHistoryProjection) addToHistoryLocked(summary *BuildSummary) {
	for _, h := range p.history {
		if h.BuildID == summary.BuildID {
			return
		}
	}

	p.history = append([]*BuildSummary{summary}, p.history...)
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneBuildsLocked()
}

// pruneBuildsLocked removes finished builds not present in the bounded
// history. Builds that are still queued or running are always kept.
// Caller must hold p.mu (write lock).
func (p *BuildHistoryProjection) pruneBuildsLocked() {
	keep := make(map[string]struct{}, len(p.history))
	for _, h := range p.history {
		if h != nil {
			keep[h.BuildID] = struct{}{}
		}
	}

	for id, summary := range p.builds {
		if summary != nil && !summary.terminal() {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(p.builds, id)
		}
	}
}

// sortHistoryLocked sorts history by queue time, newest first.
func (p *BuildHistoryProjection) sortHistoryLocked() {
	// Simple insertion sort (history is usually small)
	for i := 1; i < len(p.history); i++ {
		for j := i; j > 0 && p.history[j].QueuedAt.After(p.history[j-1].QueuedAt); j-- {
			p.history[j], p.history[j-1] = p.history[j-1], p.history[j]
		}
	}
}

// GetHistory returns the build history, newest first.
func (p *BuildHistoryProjection) GetHistory() []*BuildSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*BuildSummary, len(p.history))
	copy(result, p.history)
	return result
}

// PipelineHistory returns the finished builds of one pipeline, newest first.
func (p *BuildHistoryProjection) PipelineHistory(pipeline string) []*BuildSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var result []*BuildSummary
	for _, h := range p.history {
		if h.Pipeline == pipeline {
			cp := *h
			result = append(result, &cp)
		}
	}
	return result
}

// GetBuild returns the summary for a specific build.
func (p *BuildHistoryProjection) GetBuild(buildID string) (*BuildSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary, exists := p.builds[buildID]
	if !exists {
		return nil, false
	}

	cp := *summary
	return &cp, true
}

// ActiveBuilds returns every build that is still queued or running.
func (p *BuildHistoryProjection) ActiveBuilds() []*BuildSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var active []*BuildSummary
	for _, summary := range p.builds {
		if !summary.terminal() {
			cp := *summary
			active = append(active, &cp)
		}
	}
	return active
}

// LastSyncTime returns when the projection was last synchronized.
func (p *BuildHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
