// Package metrics exposes Prometheus collectors for the HTTP surface and
// the detached side-effect queues.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "plantree",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plantree",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "plantree",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	backupDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plantree",
			Subsystem: "backup",
			Name:      "deliveries_total",
			Help:      "Total number of backup delivery attempts.",
		},
		[]string{"status"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plantree",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts.",
		},
		[]string{"kind", "status"},
	)
)

func init() {
	Registry.MustRegister(httpInFlight, httpRequests, httpDuration, backupDeliveries, loginAttempts)
}

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one handled HTTP request.
func ObserveRequest(method, path string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// RequestStarted marks a request in flight; the returned function ends it.
func RequestStarted() func() {
	httpInFlight.Inc()
	return httpInFlight.Dec
}

// RecordBackup counts a backup delivery attempt.
func RecordBackup(ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	backupDeliveries.WithLabelValues(status).Inc()
}

// RecordLogin counts a login attempt per credential kind.
func RecordLogin(kind string, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	loginAttempts.WithLabelValues(kind, status).Inc()
}
