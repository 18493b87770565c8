// Package observability exposes Prometheus metrics and health probes
// for the bot process.
package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session lifecycle metrics, labelled by flow mode
	// (asistencia / indicadores).
	sessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldbot_sessions_started_total",
			Help: "Total number of sessions started",
		},
		[]string{"mode"},
	)

	sessionsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldbot_sessions_submitted_total",
			Help: "Total number of sessions submitted to the record sink",
		},
		[]string{"mode"},
	)

	sessionsExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldbot_sessions_expired_total",
			Help: "Total number of sessions resolved by deadline without a submission",
		},
		[]string{"mode"},
	)

	sessionsCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldbot_sessions_cancelled_total",
			Help: "Total number of sessions cancelled by the user",
		},
		[]string{"mode"},
	)

	sessionsDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldbot_sessions_discarded_total",
			Help: "Total number of sessions discarded without usable input",
		},
		[]string{"mode"},
	)

	// Sink metrics.
	sinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldbot_sink_errors_total",
			Help: "Total number of record sink failures",
		},
		[]string{"mode"},
	)

	sinkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldbot_sink_duration_seconds",
			Help:    "Record sink submission duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// Transport metrics.
	updatesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldbot_updates_received_total",
			Help: "Total number of Telegram updates received",
		},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldbot_active_sessions",
			Help: "Number of sessions currently in flight",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the metrics with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			sessionsStarted,
			sessionsSubmitted,
			sessionsExpired,
			sessionsCancelled,
			sessionsDiscarded,
			sinkErrors,
			sinkDuration,
			updatesReceived,
			activeSessions,
		)
	})
}

// MetricsHandler returns the HTTP handler for the /metrics endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// SessionStarted records a session creation.
func SessionStarted(mode string) {
	sessionsStarted.WithLabelValues(mode).Inc()
}

// SessionSubmitted records a successful sink submission.
func SessionSubmitted(mode string) {
	sessionsSubmitted.WithLabelValues(mode).Inc()
}

// SessionExpired records a deadline resolution with no submission.
func SessionExpired(mode string) {
	sessionsExpired.WithLabelValues(mode).Inc()
}

// SessionCancelled records a user cancellation.
func SessionCancelled(mode string) {
	sessionsCancelled.WithLabelValues(mode).Inc()
}

// SessionDiscarded records a session dropped without usable input.
func SessionDiscarded(mode string) {
	sessionsDiscarded.WithLabelValues(mode).Inc()
}

// SinkError records a record sink failure.
func SinkError(mode string) {
	sinkErrors.WithLabelValues(mode).Inc()
}

// ObserveSinkDuration records how long a sink submission took.
func ObserveSinkDuration(mode string, seconds float64) {
	sinkDuration.WithLabelValues(mode).Observe(seconds)
}

// UpdateReceived counts one inbound Telegram update.
func UpdateReceived() {
	updatesReceived.Inc()
}

// SetActiveSessions sets the in-flight session gauge.
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}
