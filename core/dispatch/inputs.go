package dispatch

import (
	"context"
	"math"

	"github.com/NexoWatt/nexowatt-ems/core/model"
)

// MeasurementSource provides freshness-aware reads of datapoints.
type MeasurementSource interface {
	GetFreshNumber(key string, maxAgeMs, nowMs int64) (float64, bool)
	GetFreshBool(key string, maxAgeMs, nowMs int64) (bool, bool)
	IsStale(key string, maxAgeMs, nowMs int64) bool
}

// CapSource provides the aggregated grid cap snapshot.
type CapSource interface {
	Caps(nowMs int64) (model.CapSnapshot, bool)
}

// TariffSource provides the tariff snapshot.
type TariffSource interface {
	Tariff(nowMs int64) (model.TariffSnapshot, bool)
}

// AssistSource provides the EV-charging assist request in watts.
type AssistSource interface {
	AssistRequestW(nowMs int64) float64
}

// InputSource bundles every input the dispatcher reads per cycle.
type InputSource interface {
	MeasurementSource
	CapSource
	TariffSource
	AssistSource
}

// SetpointWriter writes the final setpoint. applied reports whether the
// device confirmed it.
type SetpointWriter interface {
	WriteSetpoint(ctx context.Context, watts int) (applied bool, err error)
}

// SetpointWriterFunc adapts a function to SetpointWriter.
type SetpointWriterFunc func(ctx context.Context, watts int) (bool, error)

func (f SetpointWriterFunc) WriteSetpoint(ctx context.Context, watts int) (bool, error) {
	return f(ctx, watts)
}

// Inputs is the snapshot of everything one cycle reads.
type Inputs struct {
	Enabled          bool
	GridW            float64
	GridOK           bool
	GridRawW         float64
	GridRawOK        bool
	SoCPct           float64
	SoCOK            bool
	BatteryW         float64 // discharge positive
	BatteryOK        bool
	PVExportW        float64
	PVExportOK       bool
	EmergencyReserve bool
	ForecastKWh      float64
	ForecastOK       bool
	Caps             model.CapSnapshot
	CapsOK           bool
	Tariff           model.TariffSnapshot
	TariffOK         bool
	AssistW          float64
}

// ReadInputs reads one consistent snapshot from src.
func ReadInputs(src InputSource, cfg Config, nowMs int64) Inputs {
	in := Inputs{Enabled: true}
	if v, ok := src.GetFreshBool(model.KeyControlEnabled, cfg.ControlMaxAgeMs, nowMs); ok {
		in.Enabled = v
	}
	if !src.IsStale(model.KeyGridPowerW, cfg.GridMaxAgeMs, nowMs) {
		in.GridW, in.GridOK = src.GetFreshNumber(model.KeyGridPowerW, cfg.GridMaxAgeMs, nowMs)
	}
	in.GridRawW, in.GridRawOK = src.GetFreshNumber(model.KeyGridPowerRawW, cfg.PeakShaving.RawMaxAgeMs, nowMs)
	in.SoCPct, in.SoCOK = src.GetFreshNumber(model.KeySoCPct, cfg.SocMaxAgeMs, nowMs)
	in.BatteryW, in.BatteryOK = src.GetFreshNumber(model.KeyBatteryPowerW, cfg.BatteryPowerMaxAgeMs, nowMs)
	in.PVExportW, in.PVExportOK = src.GetFreshNumber(model.KeyPVExportW, cfg.PVSurplus.ExportMaxAgeMs, nowMs)
	in.EmergencyReserve, _ = src.GetFreshBool(model.KeyEmergencyReserve, cfg.SocMaxAgeMs, nowMs)
	in.ForecastKWh, in.ForecastOK = src.GetFreshNumber(model.KeyPVForecastKWh, cfg.Tariff.ForecastMaxAgeMs, nowMs)
	in.Caps, in.CapsOK = src.Caps(nowMs)
	if !in.CapsOK {
		in.Caps = model.CapSnapshot{}
	}
	in.Tariff, in.TariffOK = src.Tariff(nowMs)
	if !in.TariffOK {
		in.Tariff = model.TariffSnapshot{DischargeAllowed: true, GridChargeAllowed: true}
	}
	in.AssistW = src.AssistRequestW(nowMs)
	in.sanitize()
	return in
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func finitePtr(p *float64) *float64 {
	if p == nil || !finite(*p) {
		return nil
	}
	return p
}

// sanitize treats non-finite readings as missing. A NaN grid or SoC reading
// therefore gates the cycle like an absent one.
func (in *Inputs) sanitize() {
	for _, r := range []struct {
		v  *float64
		ok *bool
	}{
		{&in.GridW, &in.GridOK},
		{&in.GridRawW, &in.GridRawOK},
		{&in.SoCPct, &in.SoCOK},
		{&in.BatteryW, &in.BatteryOK},
		{&in.PVExportW, &in.PVExportOK},
		{&in.ForecastKWh, &in.ForecastOK},
	} {
		if !finite(*r.v) {
			*r.v, *r.ok = 0, false
		}
	}
	in.Caps.GridImportLimitEffectiveW = finitePtr(in.Caps.GridImportLimitEffectiveW)
	in.Caps.PeakShavingLimitW = finitePtr(in.Caps.PeakShavingLimitW)
	in.Caps.PeakOverW = finitePtr(in.Caps.PeakOverW)
	in.Caps.RequiredReductionW = finitePtr(in.Caps.RequiredReductionW)
	if !finite(in.Tariff.DesiredWatts) {
		in.Tariff.DesiredWatts = 0
	}
	if !finite(in.AssistW) {
		in.AssistW = 0
	}
}
