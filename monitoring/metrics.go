package monitoring

import "github.com/prometheus/client_golang/prometheus"

var (
	HttpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "status"},
	)

	HttpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Number of active connections",
		},
	)

	ReactionToggles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reaction_toggles_total",
			Help: "Total number of reaction toggles by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reaction_reconcile_duration_seconds",
			Help:    "Duration of reaction reconciliation, lock wait included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	TuitEdits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tuit_edits_total",
			Help: "Total number of tuit edits by outcome",
		},
		[]string{"outcome"},
	)

	StatsDriftRepaired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tuit_stats_drift_repaired_total",
			Help: "Number of tuits whose stored counters disagreed with membership and were rewritten",
		},
	)

	LiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tuit_stats_live_subscribers",
			Help: "Number of open live stats subscriptions",
		},
	)
)
