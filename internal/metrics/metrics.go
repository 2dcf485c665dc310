package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoframe_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "echoframe_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "echoframe_connections_active",
			Help: "Currently connected websocket clients",
		},
	)

	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoframe_events_broadcast_total",
			Help: "Total events fanned out to rooms",
		},
		[]string{"event"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "echoframe_events_dropped_total",
			Help: "Events dropped because a client send buffer was full",
		},
	)

	// Playback sync metrics
	PlaybackUpdatesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoframe_playback_updates_total",
			Help: "Playback updates by outcome",
		},
		[]string{"outcome"}, // "applied", "suppressed_delta", "suppressed_debounce", "unchanged"
	)

	// Moderation metrics
	ModerationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoframe_moderation_actions_total",
			Help: "Moderation actions by kind",
		},
		[]string{"action"},
	)

	// Viewer request metrics
	ViewerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoframe_viewer_requests_total",
			Help: "Viewer requests by type and outcome",
		},
		[]string{"type", "outcome"}, // outcome: "submitted", "approved", "dismissed", "expired"
	)

	// Chat metrics
	MessagesPosted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "echoframe_messages_posted_total",
			Help: "Total chat messages posted",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoframe_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "echoframe_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "echoframe_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
