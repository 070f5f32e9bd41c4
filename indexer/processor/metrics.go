package processor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the processor's Prometheus instruments. The registerer is
// injected so tests can use a private registry.
type Metrics struct {
	EventsTotal     *prometheus.CounterVec
	TransitionTotal *prometheus.CounterVec
	DroppedEvents   prometheus.Counter
	UnknownEvents   prometheus.Counter
}

// NewMetrics registers the processor instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexer",
			Name:      "events_processed_total",
			Help:      "IBC events processed, by event type.",
		}, []string{"type"}),
		TransitionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "indexer",
			Name:      "transfer_transitions_total",
			Help:      "Transfer status transitions applied, by resulting status.",
		}, []string{"status"}),
		DroppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Name:      "events_dropped_total",
			Help:      "Events dropped because required attributes were missing.",
		}),
		UnknownEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "indexer",
			Name:      "events_unknown_total",
			Help:      "Events with an unrecognized type.",
		}),
	}
	reg.MustRegister(m.EventsTotal, m.TransitionTotal, m.DroppedEvents, m.UnknownEvents)
	return m
}
