// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks relay HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total relay HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// StreamSessionsActive tracks open stream sessions.
	StreamSessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stream_sessions_active",
			Help: "Number of open stream sessions",
		},
		[]string{"role"},
	)

	// StreamSessionDuration tracks how long sessions stay open.
	StreamSessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stream_session_duration_seconds",
			Help:    "Stream session duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"role", "outcome"},
	)

	// StreamFramesTotal counts decoded frames by type.
	StreamFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_frames_total",
			Help: "Decoded stream frames",
		},
		[]string{"type"},
	)

	// StreamFramesDropped counts significant lines that failed to decode.
	StreamFramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_frames_dropped_total",
			Help: "Malformed stream frames dropped",
		},
	)

	// StreamCoinCost tracks coin cost reported by usage frames.
	StreamCoinCost = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stream_coin_cost",
			Help:    "Coin cost reported per generation",
			Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"model"},
	)

	// ScratchWritesTotal counts scratch store writes.
	ScratchWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scratch_writes_total",
			Help: "Scratch store writes",
		},
		[]string{"store", "status"},
	)

	// CacheInvalidationsTotal counts invalidated cache keys by origin.
	CacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Cache keys invalidated",
		},
		[]string{"origin"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// SessionOpened increments the active session count for role.
func SessionOpened(role string) {
	StreamSessionsActive.WithLabelValues(role).Inc()
}

// SessionClosed decrements the active session count and records the outcome.
func SessionClosed(role, outcome string, duration float64) {
	StreamSessionsActive.WithLabelValues(role).Dec()
	StreamSessionDuration.WithLabelValues(role, outcome).Observe(duration)
}

// RecordFrame counts one decoded frame.
func RecordFrame(frameType string) {
	StreamFramesTotal.WithLabelValues(frameType).Inc()
}

// RecordUsage records the coin cost of a finished generation.
func RecordUsage(model string, coinCost float64) {
	if model == "" {
		model = "unknown"
	}
	StreamCoinCost.WithLabelValues(model).Observe(coinCost)
}

// RecordScratchWrite counts a scratch store write.
func RecordScratchWrite(store string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ScratchWritesTotal.WithLabelValues(store, status).Inc()
}
