package metrics

import (
	"testing"

	"github.com/pluginhost/core/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	require.NoError(t, (<-ch).Write(m))
	return m.GetCounter().GetValue()
}

func TestPrometheusSinkRegistersAgainstGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.RecordReload("p1")

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestPrometheusSinkRecordAccessDecisionIncrementsLabeledCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.RecordAccessDecision("p1", "Logger", true)
	sink.RecordAccessDecision("p1", "Logger", true)

	assert.Equal(t, float64(2), counterValue(t, sink.accessDecisions.WithLabelValues("p1", "Logger", "true")))
}

func TestPrometheusSinkSetPluginCountSetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	sink.SetPluginCount(registry.StatusRunning, 3)

	ch := make(chan prometheus.Metric, 1)
	sink.pluginsByStatus.WithLabelValues(string(registry.StatusRunning)).Collect(ch)
	m := &dto.Metric{}
	require.NoError(t, (<-ch).Write(m))
	assert.Equal(t, float64(3), m.GetGauge().GetValue())
}

func TestTwoSinksOnDistinctRegistriesDoNotCollide(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()

	assert.NotPanics(t, func() {
		NewPrometheusSink(reg1)
		NewPrometheusSink(reg2)
	})
}
