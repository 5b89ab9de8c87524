package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts events in Prometheus. Conversion values are summed per
// event so revenue can be graphed next to counts.
type Metrics struct {
	events *prometheus.CounterVec
	value  *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "growthgoat",
			Name:      "events_total",
			Help:      "Growth events emitted, by event name.",
		}, []string{"event"}),
		value: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "growthgoat",
			Name:      "event_value_total",
			Help:      "Sum of the value property of growth events, by event name.",
		}, []string{"event"}),
	}
}

func (m *Metrics) Emit(name string, props Properties) {
	m.events.WithLabelValues(name).Inc()
	if v, ok := props["value"].(float64); ok && v > 0 {
		m.value.WithLabelValues(name).Add(v)
	}
}
