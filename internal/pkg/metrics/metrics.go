/*
Package metrics defines the Prometheus collectors exported by the room server.

Collectors are registered on a dedicated registry so tests can build isolated
instances and the /metrics handler exposes only what the server owns.
*/
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sketchsync"

// Metrics bundles every collector the engine and gateway update.
type Metrics struct {
	registry *prometheus.Registry

	ActiveRooms        prometheus.Gauge
	ActiveParticipants prometheus.Gauge
	Connections        prometheus.Gauge
	RoomsTornDown      prometheus.Counter
	Operations         *prometheus.CounterVec
	HistoryActions     *prometheus.CounterVec
	ChatMessages       prometheus.Counter
	JoinFailures       *prometheus.CounterVec
	DroppedDeliveries  prometheus.Counter
	RejectedEvents     *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go runtime collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of rooms with at least one participant.",
		}),
		ActiveParticipants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants_active",
			Help:      "Number of admitted participants across all rooms.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Number of open websocket connections.",
		}),
		RoomsTornDown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_torn_down_total",
			Help:      "Rooms whose state was discarded after the last participant left.",
		}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draw_operations_total",
			Help:      "Draw operations accepted, by kind.",
		}, []string{"kind"}),
		HistoryActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_actions_total",
			Help:      "Undo and redo requests, by action and outcome.",
		}, []string{"action", "outcome"}),
		ChatMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Chat messages accepted.",
		}),
		JoinFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_failures_total",
			Help:      "Rejected join attempts, by reason.",
		}, []string{"reason"}),
		DroppedDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_deliveries_total",
			Help:      "Events not delivered because a peer queue was full or closed.",
		}),
		RejectedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_events_total",
			Help:      "Inbound events rejected before reaching a room, by reason.",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ActiveRooms,
		m.ActiveParticipants,
		m.Connections,
		m.RoomsTornDown,
		m.Operations,
		m.HistoryActions,
		m.ChatMessages,
		m.JoinFailures,
		m.DroppedDeliveries,
		m.RejectedEvents,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
