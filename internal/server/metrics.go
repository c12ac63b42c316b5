package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the server-side sync counters.
type Metrics struct {
	registry *prometheus.Registry

	writes     prometheus.Counter
	tombstones prometheus.Counter
	polls      prometheus.Counter
	pushEvents prometheus.Counter
}

// NewMetrics builds a Metrics backed by its own registry. subscribers is
// sampled live from the push hub.
func NewMetrics(subscribers func() int) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		writes: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikid_tiddler_writes_total",
			Help: "Tiddler saves accepted by the server.",
		}),
		tombstones: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikid_tiddler_tombstones_total",
			Help: "Tiddler deletions accepted by the server.",
		}),
		polls: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikid_poll_requests_total",
			Help: "Polling delta requests served.",
		}),
		pushEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikid_push_events_total",
			Help: "Change events written to push streams.",
		}),
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "wikid_push_subscribers",
		Help: "Currently connected push-stream subscribers.",
	}, func() float64 { return float64(subscribers()) })

	return m
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Write()     { m.writes.Inc() }
func (m *Metrics) Tombstone() { m.tombstones.Inc() }
func (m *Metrics) Poll()      { m.polls.Inc() }
func (m *Metrics) PushEvent() { m.pushEvents.Inc() }
