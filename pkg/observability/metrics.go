// Package observability holds the Prometheus metrics and OpenTelemetry
// tracing used across the pipeline, API and workers.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dealmemo"

// Metrics holds every collector. All Record methods are safe on a nil *Metrics.
type Metrics struct {
	JobsTotal             *prometheus.CounterVec
	JobSeconds            prometheus.Histogram
	StageSeconds          *prometheus.HistogramVec
	StageFailuresTotal    *prometheus.CounterVec
	ClassificationsTotal  *prometheus.CounterVec
	LLMCallsTotal         *prometheus.CounterVec
	LLMLatencySeconds     *prometheus.HistogramVec
	DispatchTotal         *prometheus.CounterVec
	ReaperRecoveriesTotal *prometheus.CounterVec
	QueueDepth            prometheus.Gauge
	WebhooksTotal         *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Jobs finished, by outcome (completed, skipped, failed)",
		}, []string{"outcome", "source"}),
		JobSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_seconds",
			Help:      "Wall time of one pipeline run",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		StageSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_seconds",
			Help:      "Latency per pipeline stage",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"stage"}),
		StageFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Stage failures by error code; best-effort stages included",
		}, []string{"stage", "code"}),
		ClassificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Meeting classifications by category and method (keyword, model, default)",
		}, []string{"category", "method"}),
		LLMCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Generative calls by operation and status",
		}, []string{"operation", "provider", "status"}),
		LLMLatencySeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "Generative call latency",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60},
		}, []string{"operation", "provider"}),
		DispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Job hand-offs by backend and outcome",
		}, []string{"backend", "outcome"}),
		ReaperRecoveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_recoveries_total",
			Help:      "Jobs with an expired lease, by action (reset, failed)",
		}, []string{"action"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Messages waiting in the Redis job queue",
		}),
		WebhooksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Webhook deliveries by provider and outcome",
		}, []string{"provider", "outcome"}),
	}
}

func (m *Metrics) RecordJob(outcome, source string, seconds float64) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(outcome, source).Inc()
	m.JobSeconds.Observe(seconds)
}

func (m *Metrics) RecordStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageSeconds.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) RecordStageFailure(stage, code string) {
	if m == nil {
		return
	}
	m.StageFailuresTotal.WithLabelValues(stage, code).Inc()
}

func (m *Metrics) RecordClassification(category, method string) {
	if m == nil {
		return
	}
	m.ClassificationsTotal.WithLabelValues(category, method).Inc()
}

func (m *Metrics) RecordLLMCall(operation, provider, status string, seconds float64) {
	if m == nil {
		return
	}
	m.LLMCallsTotal.WithLabelValues(operation, provider, status).Inc()
	m.LLMLatencySeconds.WithLabelValues(operation, provider).Observe(seconds)
}

func (m *Metrics) RecordDispatch(backend, outcome string) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(backend, outcome).Inc()
}

func (m *Metrics) RecordRecovery(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ReaperRecoveriesTotal.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) SetQueueDepth(depth int64) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) RecordWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(provider, outcome).Inc()
}
