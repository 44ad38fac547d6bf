package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics exposed on GET /metrics.
var (
	// Aggregation metrics
	AggregationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_engine_aggregation_runs_total",
			Help: "Total number of daily aggregation runs",
		},
		[]string{"status"},
	)

	AggregationGroupsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_engine_aggregation_groups_written_total",
			Help: "Total number of (tenant, feature) aggregate rows written",
		},
	)

	AggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "usage_engine_aggregation_duration_seconds",
			Help:    "Daily aggregation run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	// Result cache metrics
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_engine_cache_requests_total",
			Help: "Result cache lookups by kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: hit, miss, shared, abandoned
	)

	CacheComputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "usage_engine_cache_compute_duration_seconds",
			Help:    "Time spent recomputing a cached result",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"kind"},
	)

	// Scoring metrics
	AnomaliesFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_engine_anomalies_flagged_total",
			Help: "Features flagged anomalous across scoring passes",
		},
	)

	// Narration metrics
	NarrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_engine_narrations_total",
			Help: "Insight narrations by source",
		},
		[]string{"source"}, // source: no_data, unconfigured, generated, empty_response, fallback
	)

	TextGenRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_engine_textgen_requests_total",
			Help: "Text-generation API requests",
		},
		[]string{"provider", "status"},
	)

	TextGenRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "usage_engine_textgen_request_duration_seconds",
			Help:    "Text-generation request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_engine_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "code"},
	)
)
