// Package metrics registers the Prometheus collectors of the publishing
// pipeline and the HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Publish attempts partitioned by platform and outcome
	// (published, retry, failed).
	PublishOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postflow_publish_outcomes_total",
			Help: "Publish attempts by platform and outcome",
		},
		[]string{"platform", "outcome"},
	)

	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postflow_publish_duration_seconds",
			Help:    "Time spent dispatching one target, uploads included",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"platform"},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postflow_token_refreshes_total",
			Help: "Token refresh attempts by platform and result",
		},
		[]string{"platform", "result"},
	)

	UploadedChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postflow_upload_chunks_total",
			Help: "Media chunks acknowledged by the platform",
		},
		[]string{"platform"},
	)

	EnqueuedJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postflow_enqueued_jobs_total",
			Help: "Publish jobs handed to the queue by result (accepted, duplicate, error)",
		},
		[]string{"result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	CronRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postflow_cron_runs_total",
			Help: "Background job runs by job and result",
		},
		[]string{"job", "result"},
	)
)
