// Package metrics exposes the daemon's Prometheus instrumentation: event
// counters fed by the recorder and a snapshot collector that reads swarm
// state at scrape time. Everything registers on an instance-scoped registry
// so independent crawl sessions in one process never collide.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/scbe-labs/arachne/internal/swarm"
)

// Metrics bundles the registry with the counters incremented as bus events
// flow through the recorder.
type Metrics struct {
	reg *prometheus.Registry

	crawlEvents  *prometheus.CounterVec
	safetyEvents *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	auto := promauto.With(reg)
	return &Metrics{
		reg: reg,
		crawlEvents: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "arachne_crawl_events_total",
			Help: "Discovery channel events observed on the bus, by event type.",
		}, []string{"event"}),
		safetyEvents: auto.NewCounterVec(prometheus.CounterOpts{
			Name: "arachne_safety_events_total",
			Help: "Safety channel events observed on the bus, by event type.",
		}, []string{"event"}),
	}
}

// Registry returns the instance registry for promhttp exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) CountCrawlEvent(event string) {
	m.crawlEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) CountSafetyEvent(event string) {
	m.safetyEvents.WithLabelValues(event).Inc()
}

// ObserveSwarm registers a collector that snapshots the coordinator on every
// scrape, so gauges reflect live state without a refresh loop.
func (m *Metrics) ObserveSwarm(coord *swarm.Coordinator) {
	m.reg.MustRegister(&swarmCollector{coord: coord})
}
