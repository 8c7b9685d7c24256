// Package metrics defines the observability hooks the engine emits and a
// Prometheus-backed implementation of them.
package metrics

import "time"

// Recorder defines observability hooks for build and stage metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe for nil receivers when using the NoopRecorder (allowing
// optional injection).
type Recorder interface {
	ObserveStageDuration(pipeline, stage string, d time.Duration)
	ObserveBuildDuration(pipeline string, d time.Duration)
	IncStageOutcome(pipeline, stage, outcome string) // outcome: pass|fail|skipped|timed-out
	IncBuildOutcome(pipeline, status string)         // status: promoted|failed|blocked|cancelled
	IncStageRetry(pipeline, stage string)
	SetQueueDepth(n int)
	IncDedupHit(pipeline string)
	IncFeedbackDelivery(channel string, success bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, string, time.Duration) {}
func (NoopRecorder) ObserveBuildDuration(string, time.Duration)         {}
func (NoopRecorder) IncStageOutcome(string, string, string)             {}
func (NoopRecorder) IncBuildOutcome(string, string)                     {}
func (NoopRecorder) IncStageRetry(string, string)                       {}
func (NoopRecorder) SetQueueDepth(int)                                  {}
func (NoopRecorder) IncDedupHit(string)                                 {}
func (NoopRecorder) IncFeedbackDelivery(string, bool)                   {}
