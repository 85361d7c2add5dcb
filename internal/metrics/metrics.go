package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of the sync core. A nil *Metrics is valid and
// records nothing, so components can run without a registry.
type Metrics struct {
	eventsApplied     *prometheus.CounterVec
	eventsIgnored     *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	outboundQueued    prometheus.Gauge
	persistErrors     *prometheus.CounterVec
	busDropped        *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_events_applied_total",
				Help: "Total number of inbound events applied to the store.",
			},
			[]string{"source"},
		),
		eventsIgnored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_events_ignored_total",
				Help: "Total number of inbound frames that did not mutate the store.",
			},
			[]string{"reason"},
		),
		reconnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_reconnect_attempts_total",
				Help: "Total number of scheduled reconnect attempts.",
			},
		),
		outboundQueued: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatsync_outbound_queued",
				Help: "Number of commands waiting for an open connection.",
			},
		),
		persistErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_persist_errors_total",
				Help: "Total number of failed local persistence operations.",
			},
			[]string{"op"},
		),
		busDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_bus_events_dropped_total",
				Help: "Total number of events dropped for slow bus subscribers.",
			},
			[]string{"kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.eventsApplied,
			m.eventsIgnored,
			m.reconnectAttempts,
			m.outboundQueued,
			m.persistErrors,
			m.busDropped,
		)
	}
	return m
}

func (m *Metrics) EventApplied(source string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(source).Inc()
}

// EventIgnored counts a frame dropped for reason: malformed, unknown, duplicate.
func (m *Metrics) EventIgnored(reason string) {
	if m == nil {
		return
	}
	m.eventsIgnored.WithLabelValues(reason).Inc()
}

func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

func (m *Metrics) SetQueued(n int) {
	if m == nil {
		return
	}
	m.outboundQueued.Set(float64(n))
}

func (m *Metrics) PersistError(op string) {
	if m == nil {
		return
	}
	m.persistErrors.WithLabelValues(op).Inc()
}

// BusDropped counts an event a subscriber missed. Matches bus.Bus.OnDrop.
func (m *Metrics) BusDropped(kind string) {
	if m == nil {
		return
	}
	m.busDropped.WithLabelValues(kind).Inc()
}
