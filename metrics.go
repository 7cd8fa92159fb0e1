package rtdb

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors updated by streams.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	events   *prometheus.CounterVec
	failures prometheus.Counter
	restarts prometheus.Counter
	open     prometheus.Gauge
}

// NewMetrics creates the stream collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtdb",
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Events delivered to stream callbacks, by event type.",
		}, []string{"type"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtdb",
			Subsystem: "stream",
			Name:      "failures_total",
			Help:      "Connection, decode and callback failures seen by streams.",
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtdb",
			Subsystem: "stream",
			Name:      "restarts_total",
			Help:      "Connections rebuilt after a failure.",
		}),
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtdb",
			Name:      "streams_open",
			Help:      "Streams that have been opened and not yet closed.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.events, m.failures, m.restarts, m.open} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) event(t EventType) {
	if m != nil {
		m.events.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) failure() {
	if m != nil {
		m.failures.Inc()
	}
}

func (m *Metrics) restart() {
	if m != nil {
		m.restarts.Inc()
	}
}

func (m *Metrics) opened() {
	if m != nil {
		m.open.Inc()
	}
}

func (m *Metrics) closed() {
	if m != nil {
		m.open.Dec()
	}
}
