package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scbe-labs/arachne/internal/swarm"
)

var (
	descAgentsByStatus = prometheus.NewDesc(
		"arachne_agents",
		"Registered agents by status.",
		[]string{"status"}, nil)
	descAgentsByRole = prometheus.NewDesc(
		"arachne_agents_by_role",
		"Registered agents by role.",
		[]string{"role"}, nil)
	descSafetyScore = prometheus.NewDesc(
		"arachne_agent_safety_score",
		"Current safety score per agent.",
		[]string{"agent", "role"}, nil)
	descPendingSwitches = prometheus.NewDesc(
		"arachne_role_switches_pending",
		"Role-switch requests awaiting votes.",
		nil, nil)
	descFrontierEntries = prometheus.NewDesc(
		"arachne_frontier_entries",
		"Frontier entries by status.",
		[]string{"status"}, nil)
	descFrontierDomains = prometheus.NewDesc(
		"arachne_frontier_domains",
		"Distinct domains seen by the frontier.",
		nil, nil)
	descBusPublished = prometheus.NewDesc(
		"arachne_bus_messages_published_total",
		"Messages accepted by the bus.",
		nil, nil)
	descBusDelivered = prometheus.NewDesc(
		"arachne_bus_messages_delivered_total",
		"Message deliveries to subscriber handlers.",
		nil, nil)
	descBusHandlerErrors = prometheus.NewDesc(
		"arachne_bus_handler_errors_total",
		"Subscriber handler invocations that returned an error.",
		nil, nil)
	descBusChannel = prometheus.NewDesc(
		"arachne_bus_channel_messages_total",
		"Messages published per channel.",
		[]string{"channel"}, nil)
)

// swarmCollector exports coordinator state as const metrics computed inside
// Collect, so a scrape always sees a consistent snapshot.
type swarmCollector struct {
	coord *swarm.Coordinator
}

func (c *swarmCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descAgentsByStatus
	ch <- descAgentsByRole
	ch <- descSafetyScore
	ch <- descPendingSwitches
	ch <- descFrontierEntries
	ch <- descFrontierDomains
	ch <- descBusPublished
	ch <- descBusDelivered
	ch <- descBusHandlerErrors
	ch <- descBusChannel
}

func (c *swarmCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.coord.GetStats()

	for status, n := range stats.ByStatus {
		ch <- prometheus.MustNewConstMetric(descAgentsByStatus, prometheus.GaugeValue, float64(n), string(status))
	}
	for role, n := range stats.ByRole {
		ch <- prometheus.MustNewConstMetric(descAgentsByRole, prometheus.GaugeValue, float64(n), string(role))
	}
	for _, a := range c.coord.Agents() {
		ch <- prometheus.MustNewConstMetric(descSafetyScore, prometheus.GaugeValue, a.SafetyScore, a.ID, string(a.Role))
	}
	ch <- prometheus.MustNewConstMetric(descPendingSwitches, prometheus.GaugeValue, float64(stats.PendingSwitches))

	f := stats.Frontier
	for status, n := range map[string]int{
		"queued":    f.Queued,
		"claimed":   f.Claimed,
		"crawling":  f.Crawling,
		"completed": f.Completed,
		"failed":    f.Failed,
		"blocked":   f.Blocked,
	} {
		ch <- prometheus.MustNewConstMetric(descFrontierEntries, prometheus.GaugeValue, float64(n), status)
	}
	ch <- prometheus.MustNewConstMetric(descFrontierDomains, prometheus.GaugeValue, float64(f.Domains))

	b := stats.Bus
	ch <- prometheus.MustNewConstMetric(descBusPublished, prometheus.CounterValue, float64(b.Published))
	ch <- prometheus.MustNewConstMetric(descBusDelivered, prometheus.CounterValue, float64(b.Delivered))
	ch <- prometheus.MustNewConstMetric(descBusHandlerErrors, prometheus.CounterValue, float64(b.HandlerErrors))
	for channel, n := range b.PerChannel {
		ch <- prometheus.MustNewConstMetric(descBusChannel, prometheus.CounterValue, float64(n), channel)
	}
}
