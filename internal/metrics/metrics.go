package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "strangerchat_connections_active",
			Help: "Live real-time connections attached to this instance",
		},
	)

	ConnectionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strangerchat_connections_rejected_total",
			Help: "Connections closed at connect time for a missing user id",
		},
	)

	// Matchmaking metrics
	MatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strangerchat_matches_total",
			Help: "Rooms created by matchmaking",
		},
	)

	QueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strangerchat_queued_total",
			Help: "Find-partner requests that ended up waiting",
		},
	)

	RoomsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strangerchat_rooms_ended_total",
			Help: "Rooms ended, by reason",
		},
		[]string{"reason"}, // "leave", "skip", "disconnect", "api"
	)

	// Messaging metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strangerchat_messages_sent_total",
			Help: "Messages persisted and broadcast",
		},
	)

	// Protocol metrics
	EventErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strangerchat_event_errors_total",
			Help: "Error events emitted to connections, by event and kind",
		},
		[]string{"event", "kind"},
	)

	Undeliverable = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strangerchat_undeliverable_total",
			Help: "Notifications dropped because the target had no live connection",
		},
		[]string{"event"},
	)
)
