// Package metrics exposes the daemon's Prometheus instrumentation. Only
// APIRequestDuration and ActiveHTTPRequests are updated, by
// internal/middleware's request-timing middleware; the other gauges and
// counters are registered but no code in this module sets them, so they
// stay at zero. It is grounded on the teacher's own
// internal/metrics package (metrics.go) — same promauto var-block style
// (HistogramVec for latency, CounterVec for totals, Gauge for point-in-time
// depth), narrowed from the teacher's DuckDB/tile-cache domain to this
// daemon's websocket/outbox/upload domain.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequestDuration tracks HTTP handler latency by method/path/status.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jukebox_api_request_duration_seconds",
			Help:    "Duration of HTTP API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// ActiveHTTPRequests tracks requests currently in flight.
	ActiveHTTPRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jukebox_active_http_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// WebSocketSessions is the gauge for registered hub sessions; nothing in
	// this module sets it, so it reads 0.
	WebSocketSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jukebox_websocket_sessions",
			Help: "Current number of registered WebSocket sessions",
		},
	)

	// OutboxDepth is the gauge for envelopes retained in the global outbox
	// ring; nothing in this module sets it, so it reads 0.
	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jukebox_outbox_depth",
			Help: "Number of envelopes currently retained in the global outbox ring",
		},
	)

	// UploadSessionsActive is the gauge for in-flight (non-terminal) upload
	// sessions; nothing in this module sets it, so it reads 0.
	UploadSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jukebox_upload_sessions_active",
			Help: "Number of upload sessions not yet in a terminal state",
		},
	)

	// EnvelopesPublishedTotal is the counter for envelopes emitted by the
	// Broadcasting Service, by event_type; nothing in this module increments
	// it, so it stays at 0.
	EnvelopesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jukebox_envelopes_published_total",
			Help: "Total number of envelopes published, by event_type",
		},
		[]string{"event_type"},
	)

	// OperationsTotal is the counter for client operations by terminal
	// outcome; nothing in this module increments it, so it stays at 0.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jukebox_operations_total",
			Help: "Total number of client operations, by outcome (acked|errored)",
		},
		[]string{"outcome"},
	)
)

// TrackActiveRequest increments or decrements ActiveHTTPRequests.
func TrackActiveRequest(start bool) {
	if start {
		ActiveHTTPRequests.Inc()
		return
	}
	ActiveHTTPRequests.Dec()
}

// RecordAPIRequest records one completed HTTP request's latency.
func RecordAPIRequest(method, path, status string, d time.Duration) {
	APIRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}
