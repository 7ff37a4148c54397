// README: Prometheus collectors for HTTP traffic, location ingest, alerts and the mapping provider.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests.",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	RequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		},
	)

	// LocationUpdates counts ingest calls by result: ok, invalid or error.
	LocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_location_updates_total",
			Help: "Driver location updates processed.",
		},
		[]string{"result"},
	)

	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_alerts_total",
			Help: "Tracking alerts raised, by type.",
		},
		[]string{"type"},
	)

	// SideEffectFailures counts failures on paths that never fail the caller.
	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_side_effect_failures_total",
			Help: "Failed fire-and-forget operations, by kind.",
		},
		[]string{"kind"},
	)

	ProximityDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracking_proximity_query_duration_seconds",
			Help:    "Nearby-driver query latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maps_requests_total",
			Help: "Mapping provider requests.",
		},
		[]string{"op", "status", "cached"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maps_request_duration_seconds",
			Help:    "Mapping provider latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "cached"},
	)
)

// TrackProviderRequest records one mapping provider call.
func TrackProviderRequest(op, status string, cached bool, d time.Duration) {
	c := strconv.FormatBool(cached)
	ProviderRequestsTotal.WithLabelValues(op, status, c).Inc()
	ProviderRequestDuration.WithLabelValues(op, c).Observe(d.Seconds())
}
