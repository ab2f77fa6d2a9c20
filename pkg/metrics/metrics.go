// Package metrics exposes the relay's Prometheus instrumentation.
//
// All collectors live on a dedicated registry so tests can scrape or
// reset them without touching the global default.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every relay collector.
var Registry = prometheus.NewRegistry()

var (
	// AuthAttempts counts challenge verifications by result.
	AuthAttempts = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "relay_auth_attempts_total",
		Help: "Challenge verification attempts by result (ok, failed).",
	}, []string{"result"})

	// MessagesRelayed counts relayed messages by delivery outcome.
	MessagesRelayed = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Messages accepted by the relay, by outcome (delivered, queued).",
	}, []string{"outcome"})

	// ConnectedSessions tracks the number of live sockets.
	ConnectedSessions = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "relay_connected_sessions",
		Help: "Currently connected websocket sessions.",
	})

	// QueuePurged counts queue reaper deletions by reason.
	QueuePurged = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "relay_queue_purged_total",
		Help: "Queued messages purged by the reaper, by reason (expired, stale).",
	}, []string{"reason"})

	// ChallengesPurged counts challenge reaper deletions.
	ChallengesPurged = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "relay_challenges_purged_total",
		Help: "Expired authentication challenges purged by the reaper.",
	})

	// OneTimeKeysConsumed counts one-time pre-keys handed out in bundles.
	OneTimeKeysConsumed = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "relay_one_time_keys_consumed_total",
		Help: "One-time pre-keys consumed by bundle fetches.",
	})

	// HTTPDuration observes request latency per route and status.
	HTTPDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_http_request_duration_seconds",
		Help:    "HTTP request latency by method, route pattern, and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler returns the scrape endpoint for the relay registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request observation.
func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
