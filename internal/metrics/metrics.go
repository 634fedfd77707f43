// Package metrics provides Prometheus metrics for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageTotal counts stage outcomes per episode.
	StageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "podpipe",
			Name:      "stage_total",
			Help:      "Stage executions by outcome",
		},
		[]string{"stage", "outcome"},
	)

	// StageDuration measures how long a stage takes for one episode.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "podpipe",
			Name:      "stage_duration_seconds",
			Help:      "Duration of a stage for one episode in seconds",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"stage"},
	)

	// ExternalCallsTotal counts calls to speech-to-text and reasoner services.
	ExternalCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "podpipe",
			Name:      "external_calls_total",
			Help:      "Calls to external services",
		},
		[]string{"service", "status"},
	)

	// ExternalCallDuration measures external call latency.
	ExternalCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "podpipe",
			Name:      "external_call_duration_seconds",
			Help:      "Duration of external service calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// EstimatedTokens approximates reasoner token usage.
	EstimatedTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "podpipe",
			Name:      "llm_estimated_tokens_total",
			Help:      "Estimated prompt plus completion tokens",
		},
		[]string{"provider"},
	)

	// SummaryFallbacks counts summaries produced by the local extractor.
	SummaryFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "podpipe",
			Name:      "summary_fallbacks_total",
			Help:      "Summaries produced without the reasoner",
		},
	)

	// EpisodesDownloaded counts download outcomes per feed entry.
	EpisodesDownloaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "podpipe",
			Name:      "episodes_downloaded_total",
			Help:      "Feed entries by download outcome",
		},
		[]string{"outcome"},
	)

	// ClaimConflicts counts claims lost to another worker.
	ClaimConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "podpipe",
			Name:      "claim_conflicts_total",
			Help:      "Episode claims lost to another worker",
		},
		[]string{"stage"},
	)

	// HTTPRequests counts API requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "podpipe",
			Name:      "http_requests_total",
			Help:      "API requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

// RecordStage records one stage execution.
func RecordStage(stage, outcome string, seconds float64) {
	StageTotal.WithLabelValues(stage, outcome).Inc()
	StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordExternalCall records a call to an external service.
func RecordExternalCall(service, status string, seconds float64) {
	ExternalCallsTotal.WithLabelValues(service, status).Inc()
	ExternalCallDuration.WithLabelValues(service).Observe(seconds)
}
