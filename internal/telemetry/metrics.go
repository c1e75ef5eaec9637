package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the Chorus server.
type Metrics struct {
	ChatTotal           *prometheus.CounterVec
	ChatDurationMs      *prometheus.HistogramVec
	ModelCallTotal      *prometheus.CounterVec
	ModelCallDurationMs *prometheus.HistogramVec
	VoteTotal           *prometheus.CounterVec
	RetrievalPassages   prometheus.Histogram
	FilterActionTotal   *prometheus.CounterVec
	RateLimitHitTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics on reg. Tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChatTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_chat_total",
			Help: "Total chat turns handled, by detected intent and outcome.",
		}, []string{"intent", "status"}),

		ChatDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chorus_chat_duration_ms",
			Help:    "End-to-end chat turn duration in milliseconds.",
			Buckets: []float64{250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		}, []string{"intent"}),

		ModelCallTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_model_call_total",
			Help: "Total upstream model calls.",
		}, []string{"provider", "model", "status"}),

		ModelCallDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chorus_model_call_duration_ms",
			Help:    "Upstream model call latency in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"provider", "model"}),

		VoteTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_vote_total",
			Help: "Evaluator ballots, by outcome (valid, discarded, failed).",
		}, []string{"outcome"}),

		RetrievalPassages: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chorus_retrieval_passages",
			Help:    "Number of passages returned per retrieval.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),

		FilterActionTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_filter_action_total",
			Help: "Total filter actions taken.",
		}, []string{"filter", "action"}),

		RateLimitHitTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chorus_rate_limit_hit_total",
			Help: "Requests rejected by a rate limit or quota.",
		}, []string{"limit"}),
	}
}

// RecordChat records metrics for a completed chat turn.
func (m *Metrics) RecordChat(intent, status string, durationMs float64) {
	m.ChatTotal.WithLabelValues(intent, status).Inc()
	m.ChatDurationMs.WithLabelValues(intent).Observe(durationMs)
}

// RecordModelCall records one upstream model call.
func (m *Metrics) RecordModelCall(provider, model, status string, durationMs float64) {
	m.ModelCallTotal.WithLabelValues(provider, model, status).Inc()
	m.ModelCallDurationMs.WithLabelValues(provider, model).Observe(durationMs)
}

// RecordVote records an evaluator ballot outcome.
func (m *Metrics) RecordVote(outcome string) {
	m.VoteTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRetrieval(passages int) {
	m.RetrievalPassages.Observe(float64(passages))
}

// RecordFilterAction records a filter action metric.
func (m *Metrics) RecordFilterAction(filter, action string) {
	m.FilterActionTotal.WithLabelValues(filter, action).Inc()
}

func (m *Metrics) RecordRateLimitHit(limit string) {
	m.RateLimitHitTotal.WithLabelValues(limit).Inc()
}
