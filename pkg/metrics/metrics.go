package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes used as the "outcome" label on RequestsTotal.
const (
	OutcomeForwarded      = "forwarded"
	OutcomeRejected       = "rejected"
	OutcomeDownstreamFail = "downstream_error"
	OutcomeInvalid        = "invalid"
)

var (
	// Counter: Total requests seen by the hit counter
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitcounter_requests_total",
			Help: "Total number of requests handled by the hit counter",
		},
		[]string{"method", "outcome"},
	)

	// Counter: Hits that could not be recorded
	CountingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitcounter_counting_failures_total",
			Help: "Total hits that could not be recorded, by store error kind",
		},
		[]string{"kind", "policy"},
	)

	// Counter: Store increment retries
	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitcounter_store_retries_total",
			Help: "Total store increment retries, by store error kind",
		},
		[]string{"kind"},
	)

	// Counter: Downstream failures
	DownstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitcounter_downstream_errors_total",
			Help: "Total downstream invocation failures",
		},
		[]string{"reason"},
	)

	// Histogram: End-to-end request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hitcounter_request_duration_seconds",
			Help:    "Request duration in seconds, counting and forwarding included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Histogram: Store operation duration
	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hitcounter_store_duration_seconds",
			Help:    "Counter store operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 3},
		},
		[]string{"op"},
	)

	// Histogram: Downstream invocation duration
	DownstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hitcounter_downstream_duration_seconds",
			Help:    "Downstream invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status_class"},
	)

	// Gauge: Requests in flight
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hitcounter_active_requests",
			Help: "Number of requests currently being handled",
		},
	)

	// Counter: HTTP responses written by the entry server
	HTTPResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitcounter_http_responses_by_status_class_total",
			Help: "Total HTTP responses by status class",
		},
		[]string{"status_class"},
	)
)

// StatusClass converts a status code to its class label (2xx, 4xx, ...)
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
