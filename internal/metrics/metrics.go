// Package metrics exposes Prometheus collectors for the realtime engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "matchgogo_connections_active",
		Help: "Number of live transport connections in the registry.",
	})

	EnvelopesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchgogo_envelopes_delivered_total",
		Help: "Envelopes enqueued to a connection, by type.",
	}, []string{"type"})

	EnvelopesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchgogo_envelopes_dropped_total",
		Help: "Envelopes not enqueued, by reason.",
	}, []string{"reason"})

	InterestEdges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchgogo_interest_edges_total",
		Help: "New interest edges recorded.",
	})

	MatchesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchgogo_matches_created_total",
		Help: "Matches created.",
	})

	CallTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchgogo_call_transitions_total",
		Help: "Call session transitions, by target status and reason.",
	}, []string{"status", "reason"})

	CallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchgogo_call_duration_seconds",
		Help:    "Duration of connected calls.",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	ReconcileCollapsed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchgogo_reconcile_collapsed_total",
		Help: "Records collapsed by the message reconciler, by rule.",
	}, []string{"rule"})

	StorageErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchgogo_storage_errors_total",
		Help: "Storage failures, by operation.",
	}, []string{"op"})

	RelayFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matchgogo_relay_frames_total",
		Help: "Cross-node relay frames, by direction.",
	}, []string{"direction"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		EnvelopesDelivered,
		EnvelopesDropped,
		InterestEdges,
		MatchesCreated,
		CallTransitions,
		CallDuration,
		ReconcileCollapsed,
		StorageErrors,
		RelayFrames,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
