// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets spans typical completion latencies, 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts HTTP requests by method, route and status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onellm_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onellm_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "onellm_streaming_connections_active",
			Help: "Active SSE streaming responses",
		},
	)

	// FanoutWidth records how many models a single chat request targeted.
	FanoutWidth = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onellm_fanout_models",
			Help:    "Models per chat request",
			Buckets: []float64{1, 2, 3, 4, 6, 8},
		},
	)

	// ProviderRequestsTotal counts upstream calls by outcome (ok, error).
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onellm_provider_requests_total",
			Help: "Upstream provider requests",
		},
		[]string{"provider", "model", "outcome"},
	)

	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onellm_provider_latency_seconds",
			Help:    "Upstream provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider"},
	)

	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onellm_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "direction"},
	)

	// DecodeErrorsTotal counts stream frames that were dropped as unparseable.
	DecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onellm_decode_errors_total",
			Help: "Dropped stream frames",
		},
		[]string{"provider"},
	)

	// DiscoveriesTotal counts model discovery runs per provider and outcome.
	DiscoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onellm_model_discoveries_total",
			Help: "Model discovery runs",
		},
		[]string{"provider", "outcome"},
	)

	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "onellm_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		FanoutWidth,
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		DecodeErrorsTotal,
		DiscoveriesTotal,
		RateLimitRejectedTotal,
	)
}
