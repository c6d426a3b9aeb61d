// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts HTTP requests by method, route and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatgate_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "route"},
	)

	// StreamingConnections tracks the number of open client event streams.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatgate_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// UpstreamRequestsTotal counts upstream calls by target and outcome.
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_upstream_requests_total",
			Help: "Upstream requests",
		},
		[]string{"target", "stream", "outcome"},
	)

	// UpstreamLatency records time to upstream response headers in seconds.
	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatgate_upstream_latency_seconds",
			Help:    "Upstream latency",
			Buckets: LLMBuckets,
		},
		[]string{"target", "stream"},
	)

	// StreamsTotal counts completed client streams by target, mode and outcome.
	StreamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_streams_total",
			Help: "Completed streams",
		},
		[]string{"target", "mode", "outcome"},
	)

	// StreamEvents counts events delivered per stream.
	StreamEvents = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatgate_stream_events",
			Help:    "Events delivered per stream",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"target", "mode"},
	)

	// StreamDuration records wall time from call start to stream end.
	StreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatgate_stream_duration_seconds",
			Help:    "Stream duration",
			Buckets: LLMBuckets,
		},
		[]string{"target", "mode"},
	)

	// CacheLookupsTotal counts response cache lookups by result.
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_cache_lookups_total",
			Help: "Response cache lookups",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		UpstreamRequestsTotal,
		UpstreamLatency,
		StreamsTotal,
		StreamEvents,
		StreamDuration,
		CacheLookupsTotal,
	)
}
