// Package metrics exposes prometheus instrumentation for collectors and the monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups all collectors registered by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	MessagesReceived  *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	Reconnects        *prometheus.CounterVec
	Connected         *prometheus.GaugeVec
	NetPct            *prometheus.GaugeVec
	EventsOpened      prometheus.Counter
	EventsClosed      prometheus.Counter
	OpenEvents        prometheus.Gauge
	TickDuration      prometheus.Histogram
	PersistenceErrors prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbwatch_messages_received_total",
			Help: "Websocket messages received per exchange.",
		}, []string{"exchange"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbwatch_dropped_messages_total",
			Help: "Messages ignored because they were malformed or not subscribed.",
		}, []string{"exchange"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbwatch_reconnects_total",
			Help: "Connection failures followed by a backoff and retry.",
		}, []string{"exchange"}),
		Connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arbwatch_exchange_connected",
			Help: "1 while the exchange stream is connected.",
		}, []string{"exchange"}),
		NetPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arbwatch_net_pct",
			Help: "Latest fee-adjusted arbitrage percentage.",
		}, []string{"symbol", "direction"}),
		EventsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbwatch_events_opened_total",
			Help: "Arbitrage events started.",
		}),
		EventsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbwatch_events_closed_total",
			Help: "Arbitrage events closed.",
		}),
		OpenEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arbwatch_open_events",
			Help: "Arbitrage events currently tracked by the engine.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbwatch_snapshot_tick_seconds",
			Help:    "Duration of one snapshot tick including persistence.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		PersistenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arbwatch_persistence_errors_total",
			Help: "Failed persistence calls.",
		}),
	}

	reg.MustRegister(
		m.MessagesReceived,
		m.MessagesDropped,
		m.Reconnects,
		m.Connected,
		m.NetPct,
		m.EventsOpened,
		m.EventsClosed,
		m.OpenEvents,
		m.TickDuration,
		m.PersistenceErrors,
	)
	return m
}

func (m *Metrics) MessageReceived(exchange string) {
	if m != nil {
		m.MessagesReceived.WithLabelValues(exchange).Inc()
	}
}

func (m *Metrics) MessageDropped(exchange string) {
	if m != nil {
		m.MessagesDropped.WithLabelValues(exchange).Inc()
	}
}

func (m *Metrics) Reconnect(exchange string) {
	if m != nil {
		m.Reconnects.WithLabelValues(exchange).Inc()
	}
}

func (m *Metrics) SetConnected(exchange string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.Connected.WithLabelValues(exchange).Set(v)
}

func (m *Metrics) ObserveNetPct(symbol, direction string, pct float64) {
	if m != nil {
		m.NetPct.WithLabelValues(symbol, direction).Set(pct)
	}
}

func (m *Metrics) EventOpened() {
	if m != nil {
		m.EventsOpened.Inc()
	}
}

func (m *Metrics) EventClosed() {
	if m != nil {
		m.EventsClosed.Inc()
	}
}

func (m *Metrics) SetOpenEvents(n int) {
	if m != nil {
		m.OpenEvents.Set(float64(n))
	}
}

func (m *Metrics) ObserveTick(seconds float64) {
	if m != nil {
		m.TickDuration.Observe(seconds)
	}
}

func (m *Metrics) PersistenceError() {
	if m != nil {
		m.PersistenceErrors.Inc()
	}
}
