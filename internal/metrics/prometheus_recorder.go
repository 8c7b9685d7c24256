package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once               sync.Once
	stageDuration      *prom.HistogramVec
	buildDuration      *prom.HistogramVec
	stageOutcomes      *prom.CounterVec
	buildOutcomes      *prom.CounterVec
	stageRetries       *prom.CounterVec
	queueDepth         prom.Gauge
	dedupHits          *prom.CounterVec
	feedbackDeliveries *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "ciflow",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"pipeline", "stage"})
		pr.buildDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "ciflow",
			Name:      "build_duration_seconds",
			Help:      "Total build duration from start to terminal status",
			Buckets:   prom.DefBuckets,
		}, []string{"pipeline"})
		pr.stageOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "ciflow",
			Name:      "stage_outcomes_total",
			Help:      "Stage outcome counts",
		}, []string{"pipeline", "stage", "outcome"})
		pr.buildOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "ciflow",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by terminal status",
		}, []string{"pipeline", "status"})
		pr.stageRetries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "ciflow",
			Name:      "stage_retries_total",
			Help:      "Retries of flaky-tolerant stages",
		}, []string{"pipeline", "stage"})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "ciflow",
			Name:      "queue_depth",
			Help:      "Number of builds waiting for a worker",
		})
		pr.dedupHits = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "ciflow",
			Name:      "dedup_hits_total",
			Help:      "Trigger requests collapsed onto an already-active build",
		}, []string{"pipeline"})
		pr.feedbackDeliveries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "ciflow",
			Name:      "feedback_deliveries_total",
			Help:      "Feedback notification deliveries by channel and result",
		}, []string{"channel", "result"})
		reg.MustRegister(pr.stageDuration, pr.buildDuration, pr.stageOutcomes,
			pr.buildOutcomes, pr.stageRetries, pr.queueDepth, pr.dedupHits, pr.feedbackDeliveries)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(pipeline, stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(pipeline, stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(pipeline string, d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.WithLabelValues(pipeline).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageOutcome(pipeline, stage, outcome string) {
	if p == nil || p.stageOutcomes == nil {
		return
	}
	p.stageOutcomes.WithLabelValues(pipeline, stage, outcome).Inc()
}

func (p *PrometheusRecorder) IncBuildOutcome(pipeline, status string) {
	if p == nil || p.buildOutcomes == nil {
		return
	}
	p.buildOutcomes.WithLabelValues(pipeline, status).Inc()
}

func (p *PrometheusRecorder) IncStageRetry(pipeline, stage string) {
	if p == nil || p.stageRetries == nil {
		return
	}
	p.stageRetries.WithLabelValues(pipeline, stage).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) IncDedupHit(pipeline string) {
	if p == nil || p.dedupHits == nil {
		return
	}
	p.dedupHits.WithLabelValues(pipeline).Inc()
}

func (p *PrometheusRecorder) IncFeedbackDelivery(channel string, success bool) {
	if p == nil || p.feedbackDeliveries == nil {
		return
	}
	result := "failed"
	if success {
		result = "success"
	}
	p.feedbackDeliveries.WithLabelValues(channel, result).Inc()
}
