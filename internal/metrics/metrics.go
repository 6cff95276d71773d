package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hush_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hush_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Hub metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hush_connections_active",
			Help: "Currently attached websocket connections",
		},
	)

	PresenceRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hush_presence_records",
			Help: "Presence records in the registry, including offline ones in their grace period",
		},
	)

	MessagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hush_messages_relayed_total",
			Help: "Messages accepted by the router",
		},
		[]string{"outcome"}, // "delivered" or "stored"
	)

	PresenceBroadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hush_presence_broadcasts_total",
			Help: "Full presence list fan-outs",
		},
	)

	TypingEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hush_typing_events_total",
			Help: "Typing indicator events received",
		},
	)

	ReadReceipts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hush_read_receipts_total",
			Help: "Read receipts relayed",
		},
	)

	DroppedSends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hush_dropped_sends_total",
			Help: "Outbound events dropped because a connection's buffer was full",
		},
	)

	// Reaper metrics
	PresencesDemoted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hush_presences_demoted_total",
			Help: "Presences marked offline by the inactivity sweep",
		},
	)

	PresencesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hush_presences_removed_total",
			Help: "Presence records removed after the post-disconnect grace period",
		},
	)

	ConversationsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hush_conversations_evicted_total",
			Help: "Stale conversations deleted by the retention sweep",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hush_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"endpoint"},
	)
)
