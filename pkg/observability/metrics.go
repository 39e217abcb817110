// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the chat relay, and installs OpenTelemetry trace export.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for LLM inference latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// Stream outcome label values for StreamOutcomesTotal.
const (
	OutcomeCompleted      = "completed"
	OutcomeMalformed      = "malformed"
	OutcomeUnexpectedEOF  = "unexpected_eof"
	OutcomeReadError      = "read_error"
	OutcomeCancelled      = "cancelled"
	OutcomeUpstreamStatus = "upstream_status"
)

var (
	// RequestsTotal counts all HTTP requests by method, status class, and path.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "path"},
	)

	// RequestDuration records HTTP request duration in seconds by method and path.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "path"},
	)

	// StreamingConnections tracks the number of text streams currently being
	// relayed to clients.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// UpstreamRequestsTotal counts chat completion requests sent upstream.
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_upstream_requests_total",
			Help: "Upstream requests",
		},
		[]string{"model", "status"},
	)

	// UpstreamLatency records time to upstream response headers in seconds.
	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_upstream_latency_seconds",
			Help:    "Upstream time to first byte",
			Buckets: LLMBuckets,
		},
		[]string{"model"},
	)

	// StreamOutcomesTotal counts how translated streams terminated.
	StreamOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_stream_outcomes_total",
			Help: "Stream terminations by outcome",
		},
		[]string{"outcome"},
	)

	// StreamedBytesTotal counts text bytes written to translated streams.
	StreamedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_streamed_bytes_total",
			Help: "Text bytes streamed to clients",
		},
	)

	// AuthRejectedTotal counts requests rejected by the site password gate.
	AuthRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_auth_rejected_total",
			Help: "Requests rejected by the password gate",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		UpstreamRequestsTotal,
		UpstreamLatency,
		StreamOutcomesTotal,
		StreamedBytesTotal,
		AuthRejectedTotal,
	)
}
