package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NexoWatt/nexowatt-ems/core/datapoint"
	"github.com/NexoWatt/nexowatt-ems/core/model"
	"github.com/NexoWatt/nexowatt-ems/infra/logger"
)

func ptr(v float64) *float64 { return &v }

// newTestDispatcher returns a dispatcher over an empty store with a
// discarding writer. mutate adjusts the default config.
func newTestDispatcher(t *testing.T, mutate func(*Config)) *Dispatcher {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	w := SetpointWriterFunc(func(context.Context, int) (bool, error) { return true, nil })
	d, err := NewDispatcher("ess1", cfg, datapoint.NewStore(datapoint.Options{}), w, logger.NopLogger{})
	require.NoError(t, err)
	return d
}

// inputs returns fresh grid and SoC readings with tariff permissions granted.
func inputs(gridW, socPct float64) Inputs {
	return Inputs{
		Enabled: true,
		GridW:   gridW,
		GridOK:  true,
		SoCPct:  socPct,
		SoCOK:   true,
		Tariff:  model.TariffSnapshot{DischargeAllowed: true, GridChargeAllowed: true},
	}
}
