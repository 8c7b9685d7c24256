// Package build defines the build execution domain: requests, the Build
// lifecycle state machine, and append-only stage results.
package build

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Notoriousjayy/CIFlowDocs/internal/revision"
)

// TriggerKind identifies which ingress fired a build request. All four
// normalize to the same Request shape; the core is agnostic to which fired.
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerScheduled TriggerKind = "scheduled"
	TriggerPoll      TriggerKind = "poll"
	TriggerWebhook   TriggerKind = "webhook"
)

// Priority orders requests that arrive at the same instant; the queue is
// otherwise FIFO per pipeline.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
)

// Request asks for a build of one revision. It is created by a trigger and
// consumed exactly once, then discarded or superseded.
type Request struct {
	Pipeline  string            `json:"pipeline"`
	Revision  revision.Revision `json:"revision"`
	Trigger   TriggerKind       `json:"trigger"`
	Stages    []string          `json:"stages,omitempty"` // requested stage-set; empty means all
	Priority  Priority          `json:"priority"`
	CreatedAt time.Time         `json:"created_at"`
}

// Status is the Build state machine:
// queued -> running -> {promoted | failed | blocked | cancelled}.
// Terminal states are final; rolled-back is an artifact-level operation.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusBlocked   Status = "blocked"
	StatusPromoted  Status = "promoted"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusBlocked, StatusPromoted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StageOutcome is the terminal per-stage result.
type StageOutcome string

const (
	OutcomePass     StageOutcome = "pass"
	OutcomeFail     StageOutcome = "fail"
	OutcomeSkipped  StageOutcome = "skipped"
	OutcomeTimedOut StageOutcome = "timed-out"
)

// Failed reports whether the outcome counts as failure for gating purposes.
// A timeout is treated identically to a failure.
func (o StageOutcome) Failed() bool {
	return o == OutcomeFail || o == OutcomeTimedOut
}

// StageMetrics carries the quantitative results a stage reports.
type StageMetrics struct {
	// PassRate and CoveragePct are nil when the stage's runner did not report
	// them, so a truthful 0 is distinguishable from an absent metric.
	PassRate           *float64 `json:"pass_rate,omitempty"`    // 0..100
	CoveragePct        *float64 `json:"coverage_pct,omitempty"` // 0..100
	ViolationCount     int      `json:"violation_count"`        // all severities
	FailViolationCount int      `json:"fail_violation_count"`   // "fail" severity only
	DuplicationPct     float64  `json:"duplication_pct"`
	CouplingScore      float64  `json:"coupling_score"`
	DurationMS         int64    `json:"duration_ms"`
}

// Pct wraps a reported percentage metric for StageMetrics literals.
func Pct(v float64) *float64 { return &v }

// StageResult records one stage's terminal outcome for a build. Results are
// appended once per stage and immutable after creation.
type StageResult struct {
	Stage       string       `json:"stage"`
	Outcome     StageOutcome `json:"outcome"`
	Metrics     StageMetrics `json:"metrics"`
	LogRef      string       `json:"log_ref,omitempty"`
	Seq         int          `json:"seq"` // topological completion order
	Retries     int          `json:"retries,omitempty"`
	CompletedAt time.Time    `json:"completed_at"`
	Error       string       `json:"error,omitempty"`
}

// Build is one execution instance. The pipeline executor owns it exclusively
// while running; once terminal it is read-only.
type Build struct {
	mu sync.RWMutex

	ID          string            `json:"id"`
	Fingerprint string            `json:"fingerprint"`
	Pipeline    string            `json:"pipeline"`
	Revision    revision.Revision `json:"revision"`
	Request     Request           `json:"request"`

	status    Status
	results   []StageResult
	startedAt *time.Time
	endedAt   *time.Time
	createdAt time.Time

	// cancel requests cooperative cancellation of in-flight stages;
	// cancelReason records why it was requested.
	cancel       func()
	cancelReason string
}

// New creates a queued Build for the given admitted request.
func New(req Request, fingerprint string) *Build {
	return &Build{
		ID:          uuid.NewString(),
		Fingerprint: fingerprint,
		Pipeline:    req.Pipeline,
		Revision:    req.Revision,
		Request:     req,
		status:      StatusQueued,
		createdAt:   time.Now(),
	}
}

// Status returns the current status.
func (b *Build) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Terminal reports whether the build reached a terminal state.
func (b *Build) Terminal() bool { return b.Status().Terminal() }

// MarkRunning transitions queued -> running and records the start time.
func (b *Build) MarkRunning(cancel func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != StatusQueued {
		return fmt.Errorf("build %s: cannot start from %s", b.ID, b.status)
	}
	now := time.Now()
	b.startedAt = &now
	b.status = StatusRunning
	b.cancel = cancel
	return nil
}

// Finish transitions running -> a terminal state. Finishing an already
// terminal build is rejected: terminal states are final.
func (b *Build) Finish(status Status) error {
	if !status.Terminal() {
		return fmt.Errorf("build %s: %s is not a terminal status", b.ID, status)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Terminal() {
		return fmt.Errorf("build %s: already terminal (%s)", b.ID, b.status)
	}
	now := time.Now()
	b.endedAt = &now
	b.status = status
	b.cancel = nil
	return nil
}

// Cancel requests cooperative cancellation of in-flight stages, recording
// why it was requested. The executor observes the cancellation and finishes
// the build as cancelled; completed stage results are retained for audit.
func (b *Build) Cancel(reason string) {
	b.mu.Lock()
	cancel := b.cancel
	if b.cancelReason == "" {
		b.cancelReason = reason
	}
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CancelReason returns the reason recorded by Cancel. It is empty when the
// build was cancelled through its context alone, without an explicit Cancel
// call.
func (b *Build) CancelReason() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cancelReason
}

// RecordResult appends a stage result. Results are append-only and ordered by
// completion relative to the stage graph; Seq is assigned here.
func (b *Build) RecordResult(r StageResult) StageResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	r.Seq = len(b.results) + 1
	if r.CompletedAt.IsZero() {
		r.CompletedAt = time.Now()
	}
	b.results = append(b.results, r)
	return r
}

// Results returns a copy of the accumulated stage results.
func (b *Build) Results() []StageResult {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]StageResult, len(b.results))
	copy(out, b.results)
	return out
}

// FirstFailure returns the first failing (or timed-out) stage result, if any.
// Every failed or blocked build surfaces this for actionable diagnostics.
func (b *Build) FirstFailure() (StageResult, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.results {
		if r.Outcome.Failed() {
			return r, true
		}
	}
	return StageResult{}, false
}

// Snapshot returns an immutable view for status reporting.
func (b *Build) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := Snapshot{
		ID:          b.ID,
		Fingerprint: b.Fingerprint,
		Pipeline:    b.Pipeline,
		Revision:    b.Revision,
		Trigger:     b.Request.Trigger,
		Status:      b.status,
		CreatedAt:   b.createdAt,
		StartedAt:   b.startedAt,
		EndedAt:     b.endedAt,
		Results:     make([]StageResult, len(b.results)),
	}
	copy(snap.Results, b.results)
	return snap
}

// Snapshot is a point-in-time read-only copy of a Build.
type Snapshot struct {
	ID          string            `json:"id"`
	Fingerprint string            `json:"fingerprint"`
	Pipeline    string            `json:"pipeline"`
	Revision    revision.Revision `json:"revision"`
	Trigger     TriggerKind       `json:"trigger"`
	Status      Status            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	EndedAt     *time.Time        `json:"ended_at,omitempty"`
	Results     []StageResult     `json:"results"`
}

// Duration returns wall-clock duration for finished builds, zero otherwise.
func (s Snapshot) Duration() time.Duration {
	if s.StartedAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.StartedAt)
}
