// Package metrics exposes the engine's prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks currently-subscribed live sessions.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campuslink_chat_active_connections",
		Help: "Number of live websocket sessions currently subscribed to a conversation.",
	})

	// MessagesAppended counts messages committed to the store.
	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campuslink_chat_messages_appended_total",
		Help: "Total messages appended to conversations.",
	})

	// EventsPublished counts fanout publishes by frame type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuslink_chat_events_published_total",
		Help: "Total events published through the fanout registry.",
	}, []string{"type"})

	// FramesRejected counts inbound frames refused with an inline error.
	FramesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuslink_chat_frames_rejected_total",
		Help: "Total inbound frames rejected with a local error frame.",
	}, []string{"reason"})

	// ConnectionsRefused counts connections closed at the membership gate.
	ConnectionsRefused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campuslink_chat_connections_refused_total",
		Help: "Total connection attempts refused by the membership check.",
	})
)
