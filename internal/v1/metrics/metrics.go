package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operational metrics for the relay.
//
// Naming convention: namespace_subsystem_name
// - namespace: relay
// - subsystem: room, push, poll, ratelimit
//
// Nothing here may carry a room hash or peer id as a label value: labels are
// exported, and a hash in a label is a hash disclosed.

var (
	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of live rooms",
	})

	// RoomsCreated counts room creations.
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "room",
		Name:      "created_total",
		Help:      "Total rooms created",
	})

	// RoomsDestroyed counts room destructions by cause.
	RoomsDestroyed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "room",
		Name:      "destroyed_total",
		Help:      "Total rooms destroyed",
	}, []string{"reason"})

	// MessagesRelayed counts accepted envelopes by transport.
	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "room",
		Name:      "messages_total",
		Help:      "Total envelopes accepted into room backlogs",
	}, []string{"transport"})

	// BacklogEvictions counts envelopes dropped from full backlogs.
	BacklogEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "room",
		Name:      "backlog_evictions_total",
		Help:      "Total envelopes evicted from full room backlogs",
	})

	// ActivePushConnections tracks open WebSocket connections.
	ActivePushConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "push",
		Name:      "connections_active",
		Help:      "Current number of open push connections",
	})

	// ActivePollPeers tracks peers currently tracked via the poll adapter.
	ActivePollPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "poll",
		Name:      "peers_active",
		Help:      "Current number of poll peers across all rooms",
	})

	// RateLimited counts denied operations by action.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Subsystem: "ratelimit",
		Name:      "denied_total",
		Help:      "Total operations denied by the rate limiter",
	}, []string{"action"})
)

func IncConnection() {
	ActivePushConnections.Inc()
}

func DecConnection() {
	ActivePushConnections.Dec()
}
