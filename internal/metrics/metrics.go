// Package metrics exposes Prometheus collectors for the host service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/content-progress-bridge/internal/store"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	hostSessionsActive         prometheus.Gauge
	hostFramesRejectedTotal    *prometheus.CounterVec
	hostEventsThrottledTotal   prometheus.Counter
	hostCheckpointsTotal       *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		hostSessionsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_host_sessions_active",
				Help: "Content frames currently attached to the host.",
			},
		)

		hostFramesRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_host_frames_rejected_total",
				Help: "Frames on the bridge channel the host could not process, labeled by reason.",
			},
			[]string{"reason"},
		)

		hostEventsThrottledTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_host_events_throttled_total",
				Help: "EVENT envelopes dropped by the per-content rate limiter.",
			},
		)

		hostCheckpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_host_checkpoints_total",
				Help: "Checkpoints received, labeled by kind and whether they replaced the stored one.",
			},
			[]string{"kind", "result"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// HostObserver feeds host session activity into the package collectors.
// Init must have been called.
type HostObserver struct{}

// SessionOpened increments the active session gauge.
func (HostObserver) SessionOpened() { hostSessionsActive.Inc() }

// SessionClosed decrements the active session gauge.
func (HostObserver) SessionClosed() { hostSessionsActive.Dec() }

// FrameRejected counts a frame the host dropped.
func (HostObserver) FrameRejected(reason string) {
	hostFramesRejectedTotal.WithLabelValues(reason).Inc()
}

// EventThrottled counts an EVENT dropped by rate limiting.
func (HostObserver) EventThrottled() { hostEventsThrottledTotal.Inc() }

// CheckpointSaved counts a checkpoint by kind and outcome.
func (HostObserver) CheckpointSaved(kind store.Kind, kept bool) {
	result := "stale"
	if kept {
		result = "kept"
	}
	hostCheckpointsTotal.WithLabelValues(string(kind), result).Inc()
}
