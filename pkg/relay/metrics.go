package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	rooms       prometheus.Gauge
	connections prometheus.Gauge
	relayedMsgs prometheus.Counter
	delivered   prometheus.Counter
	dropped     prometheus.Counter
	malformed   prometheus.Counter
	rejected    *prometheus.CounterVec
}

// NewMetrics registers the relay collectors on a private registry so that
// several servers can live in one process (tests).
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cowatch", Name: "rooms_active",
			Help: "Rooms currently present in the registry.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cowatch", Name: "connections_active",
			Help: "Open /ws connections.",
		}),
		relayedMsgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cowatch", Name: "messages_relayed_total",
			Help: "Client messages relayed to their room.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cowatch", Name: "sends_queued_total",
			Help: "Per-member sends queued for delivery.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cowatch", Name: "sends_dropped_total",
			Help: "Per-member sends dropped because the member was gone or its queue was full.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cowatch", Name: "messages_malformed_total",
			Help: "Inbound frames dropped because they could not be decoded.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cowatch", Name: "protocol_errors_total",
			Help: "Error envelopes sent back to clients, by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.rooms, m.connections, m.relayedMsgs, m.delivered,
		m.dropped, m.malformed, m.rejected,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the collectors at /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) roomOpened() {
	if m != nil {
		m.rooms.Inc()
	}
}

func (m *Metrics) roomClosed() {
	if m != nil {
		m.rooms.Dec()
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) relayed() {
	if m != nil {
		m.relayedMsgs.Inc()
	}
}

func (m *Metrics) broadcast(sent, dropped int) {
	if m != nil {
		m.delivered.Add(float64(sent))
		m.dropped.Add(float64(dropped))
	}
}

func (m *Metrics) malformedFrame() {
	if m != nil {
		m.malformed.Inc()
	}
}

func (m *Metrics) protocolError(err error) {
	if m != nil {
		m.rejected.WithLabelValues(errorKind(err)).Inc()
	}
}
