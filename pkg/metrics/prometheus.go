// Package metrics provides Prometheus-based metrics recording and querying
// for runs and model requests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"devflow/pkg/llm"
)

// PrometheusRecorder implements llm.Recorder and records workflow-level
// counters. Metrics register on the default registry, exposed via the
// server's /metrics handler.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	failoversTotal  *prometheus.CounterVec
	stepsTotal      *prometheus.CounterVec
	runsTotal       *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder with all metric vectors
// registered. Call at most once per process.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by provider, model, step, and outcome",
			},
			[]string{"provider", "model", "step", "outcome"},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"provider", "model", "step", "type"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model", "step"},
		),
		failoversTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_failovers_total",
				Help: "Total number of provider failover events",
			},
			[]string{"from", "to", "step"},
		),
		stepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_steps_total",
				Help: "Total number of workflow step executions by step and decision",
			},
			[]string{"step", "decision"},
		),
		runsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_runs_total",
				Help: "Total number of completed runs by final status",
			},
			[]string{"status"},
		),
	}
}

// RecordRequest implements llm.Recorder.
func (p *PrometheusRecorder) RecordRequest(provider, model, step, outcome string, usage llm.Usage, latency time.Duration) {
	p.requestsTotal.WithLabelValues(provider, model, step, outcome).Inc()
	if outcome == "success" {
		p.tokensTotal.WithLabelValues(provider, model, step, "prompt").Add(float64(usage.PromptTokens))
		p.tokensTotal.WithLabelValues(provider, model, step, "completion").Add(float64(usage.CompletionTokens))
	}
	p.requestDuration.WithLabelValues(provider, model, step).Observe(latency.Seconds())
}

// RecordFailover implements llm.Recorder.
func (p *PrometheusRecorder) RecordFailover(from, to, step string) {
	p.failoversTotal.WithLabelValues(from, to, step).Inc()
}

// RecordStep counts one workflow step execution and its decision.
func (p *PrometheusRecorder) RecordStep(step, decision string) {
	p.stepsTotal.WithLabelValues(step, decision).Inc()
}

// RecordRun counts one finished run by its final status.
func (p *PrometheusRecorder) RecordRun(status string) {
	p.runsTotal.WithLabelValues(status).Inc()
}
