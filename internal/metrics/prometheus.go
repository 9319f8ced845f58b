package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pluginhost/core/internal/registry"
)

// PrometheusSink is the reference Sink adapter, grounded on the teacher's
// controller/pkg/metrics package-level GaugeVec/CounterVec + Record*
// helper shape, adapted from session/reconciliation metrics to plugin
// status/health/access metrics and wrapped in a struct instead of package
// globals so more than one host process can run in the same binary in
// tests without colliding on the default registry.
type PrometheusSink struct {
	registry *prometheus.Registry

	pluginsByStatus *prometheus.GaugeVec
	pluginsByHealth *prometheus.GaugeVec
	statusTransitions *prometheus.CounterVec
	healthTransitions *prometheus.CounterVec
	accessDecisions   *prometheus.CounterVec
	reloads           *prometheus.CounterVec
}

// NewPrometheusSink constructs a sink and registers its collectors against
// reg. Pass prometheus.NewRegistry() for an isolated registry (recommended
// for tests and multi-host processes), or prometheus.DefaultRegisterer-
// wrapped registry for a normal single-host process.
func NewPrometheusSink(reg *prometheus.Registry) *PrometheusSink {
	s := &PrometheusSink{
		registry: reg,
		pluginsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pluginhost_plugins_by_status",
			Help: "Number of plugins currently in each lifecycle status",
		}, []string{"status"}),
		pluginsByHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pluginhost_plugins_by_health",
			Help: "Number of plugins currently in each health state",
		}, []string{"health"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pluginhost_status_transitions_total",
			Help: "Total number of plugin status transitions",
		}, []string{"plugin_id", "from", "to"}),
		healthTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pluginhost_health_transitions_total",
			Help: "Total number of plugin health transitions",
		}, []string{"plugin_id", "health"}),
		accessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pluginhost_di_access_decisions_total",
			Help: "Total number of hierarchical DI access decisions by outcome",
		}, []string{"plugin_id", "service_type", "allowed"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pluginhost_plugin_reloads_total",
			Help: "Total number of successful plugin reloads",
		}, []string{"plugin_id"}),
	}

	reg.MustRegister(
		s.pluginsByStatus, s.pluginsByHealth, s.statusTransitions,
		s.healthTransitions, s.accessDecisions, s.reloads,
	)
	return s
}

func (s *PrometheusSink) SetPluginCount(status registry.Status, count int) {
	s.pluginsByStatus.WithLabelValues(string(status)).Set(float64(count))
}

func (s *PrometheusSink) SetHealthCount(health registry.Health, count int) {
	s.pluginsByHealth.WithLabelValues(string(health)).Set(float64(count))
}

func (s *PrometheusSink) RecordStatusTransition(pluginID string, from, to registry.Status) {
	s.statusTransitions.WithLabelValues(pluginID, string(from), string(to)).Inc()
}

func (s *PrometheusSink) RecordHealthTransition(pluginID string, health registry.Health) {
	s.healthTransitions.WithLabelValues(pluginID, string(health)).Inc()
}

func (s *PrometheusSink) RecordAccessDecision(pluginID, serviceType string, allowed bool) {
	s.accessDecisions.WithLabelValues(pluginID, serviceType, boolLabel(allowed)).Inc()
}

func (s *PrometheusSink) RecordReload(pluginID string) {
	s.reloads.WithLabelValues(pluginID).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

var _ Sink = (*PrometheusSink)(nil)
