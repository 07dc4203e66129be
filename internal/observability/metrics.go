package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSent counts messages accepted by the feed.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spacechat_messages_sent_total",
		Help: "Total number of messages accepted into space feeds",
	})

	// ModerationOutcomes counts evaluations by outcome (clean, toxic, duplicate, unavailable, error).
	ModerationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacechat_moderation_outcomes_total",
		Help: "Total number of moderation evaluations by outcome",
	}, []string{"outcome"})

	// CacheLookups counts user and space cache reads by result (hit or miss).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacechat_cache_lookups_total",
		Help: "Total number of cache reads by key family and result",
	}, []string{"family", "result"})

	// UsersBlocked counts transitions of a user into the blocked state.
	UsersBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spacechat_users_blocked_total",
		Help: "Total number of users blocked after reaching the warning threshold",
	})

	// ClassifierLatency records classifier call latency by classifier kind.
	ClassifierLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spacechat_classifier_latency_seconds",
		Help:    "Content classifier latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"classifier"})

	// StoreTxRetries counts transaction attempts that hit a conflict, by operation.
	StoreTxRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacechat_store_tx_retries_total",
		Help: "Total number of store transactions retried after a conflict",
	}, []string{"operation"})

	// StoreTxExhausted counts operations that gave up after the retry budget.
	StoreTxExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacechat_store_tx_exhausted_total",
		Help: "Total number of store transactions that exhausted their retry budget",
	}, []string{"operation"})

	// ModerationQueueDepth is the number of jobs waiting for a moderation worker.
	ModerationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spacechat_moderation_queue_depth",
		Help: "Number of messages waiting for moderation",
	})

	// FeedSubscriptions is the gauge of live feed subscriptions.
	FeedSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spacechat_feed_subscriptions",
		Help: "Number of live feed subscriptions",
	})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spacechat_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spacechat_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)
