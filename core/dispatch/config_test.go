package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NexoWatt/nexowatt-ems/core/datapoint"
	"github.com/NexoWatt/nexowatt-ems/core/model"
	"github.com/NexoWatt/nexowatt-ems/infra/logger"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.PeakShaving.Enabled)
	assert.False(t, cfg.PeakRefill.Enabled)
	assert.Equal(t, 50.0, cfg.StepW)
	assert.True(t, cfg.useBatteryPower())
}

func TestConfigValidateAggregates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChargeW = -1
	cfg.StepW = -5
	cfg.Reserve.MinSocPct = 30
	cfg.Reserve.TargetSocPct = 20
	cfg.Tariff.ForecastTrust = 2
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	for _, want := range []string{"max_charge_w", "step_w", "reserve", "forecast_trust"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestNewDispatcherRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Safety.MinSocPct = 90
	cfg.Safety.MaxSocPct = 80
	w := SetpointWriterFunc(func(context.Context, int) (bool, error) { return true, nil })
	_, err := NewDispatcher("ess1", cfg, datapoint.NewStore(datapoint.Options{}), w, logger.NopLogger{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "unit ess1")
}

func TestSignLockHoldBounds(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, int64(5000), cfg.signLockHoldMs())
	cfg.SignLockHoldMs = 500
	assert.Equal(t, int64(2000), cfg.signLockHoldMs())
	cfg.PeakShaving.ReleaseDelayMs = 60000
	assert.Equal(t, int64(15000), cfg.signLockHoldMs())
}

func TestSetDefaultsKeepsExplicitValues(t *testing.T) {
	off := false
	cfg := Config{MaxChargeW: 3000, UseBatteryPower: &off, PVSurplus: PVSurplusConfig{Bands: []SocBand{}}}
	cfg.SetDefaults()
	assert.Equal(t, 3000.0, cfg.MaxChargeW)
	assert.Equal(t, 5000.0, cfg.MaxDischargeW)
	assert.False(t, cfg.useBatteryPower())
	assert.Empty(t, cfg.PVSurplus.Bands)
}

func TestExplicitZeroOffsetsSurviveDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Balance = BalanceConfig{}
	cfg.PeakShaving.ReleaseHysteresisW = 0
	cfg.PeakShaving.SocHysteresisPct = 0
	cfg.SelfConsumption.SocHysteresisPct = 0
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	assert.Zero(t, cfg.Balance.TargetImportW)
	assert.Zero(t, cfg.Balance.DeadbandW)
	assert.Zero(t, cfg.Balance.MarginW)
	assert.Zero(t, cfg.PeakShaving.ReleaseHysteresisW)
	assert.Zero(t, cfg.PeakShaving.SocHysteresisPct)
	assert.Zero(t, cfg.SelfConsumption.SocHysteresisPct)

	def := DefaultConfig()
	assert.Equal(t, BalanceConfig{TargetImportW: 50, DeadbandW: 30, MarginW: 100}, def.Balance)
	assert.Equal(t, 200.0, def.PeakShaving.ReleaseHysteresisW)
	assert.Equal(t, 5.0, def.PeakShaving.SocHysteresisPct)
}

func TestZeroTargetImportBalancesToZero(t *testing.T) {
	d := newTestDispatcher(t, func(c *Config) {
		c.Balance = BalanceConfig{}
		c.SelfConsumption.SocHysteresisPct = 0
	})
	// no hysteresis: the latch engages just above the floor
	res := d.Step(inputs(1000, 22), t0)
	assert.Equal(t, model.SourceSelfConsumption, res.Source)
	assert.Equal(t, 1000, res.Watts, "full import is discharged without a residual target")
}
