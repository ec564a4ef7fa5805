package metrics_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NexoWatt/nexowatt-ems/core/factory"
	metrics "github.com/NexoWatt/nexowatt-ems/core/metrics"
	_ "github.com/NexoWatt/nexowatt-ems/infra/metrics"
)

func TestMetricsFactory_Builtins(t *testing.T) {
	s, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}})
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "missing"}})
	assert.ErrorIs(t, err, factory.ErrUnknownType)
}

func TestNewMetricsSink_Multi(t *testing.T) {
	s, err := metrics.NewMetricsSink(nil)
	require.NoError(t, err)
	assert.IsType(t, metrics.NopSink{}, s)

	var cfg metrics.Config
	data := `{"sinks":[{"type":"nop"},{"type":"nop"}],"prom_addr":":2112"}`
	require.NoError(t, json.Unmarshal([]byte(data), &cfg))
	assert.Equal(t, ":2112", cfg.PromAddr)

	s, err = metrics.NewMetricsSink(cfg.Sinks)
	require.NoError(t, err)
	m, ok := s.(*metrics.MultiSink)
	require.True(t, ok, "expected MultiSink, got %T", s)
	assert.Len(t, m.Sinks, 2)
}

func TestNewMetricsSink_MultiUnknown(t *testing.T) {
	_, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "missing"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, factory.ErrUnknownType)
	assert.Contains(t, err.Error(), "sink 1 (missing)")
}
