package datapoint

import (
	"math"

	"github.com/NexoWatt/nexowatt-ems/core/model"
)

type reader struct {
	get  func(key string) (Value, bool)
	opts Options
}

func fresh(v Value, maxAgeMs, nowMs int64) bool {
	if maxAgeMs <= 0 {
		return true
	}
	return nowMs-v.TimestampMs <= maxAgeMs
}

func (r reader) freshNumber(key string, maxAgeMs, nowMs int64) (float64, bool) {
	v, ok := r.get(key)
	if !ok || v.Kind != KindNumber || !fresh(v, maxAgeMs, nowMs) {
		return 0, false
	}
	if math.IsNaN(v.Number) || math.IsInf(v.Number, 0) {
		return 0, false
	}
	return v.Number, true
}

func (r reader) freshBool(key string, maxAgeMs, nowMs int64) (bool, bool) {
	v, ok := r.get(key)
	if !ok || !fresh(v, maxAgeMs, nowMs) {
		return false, false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool, true
	case KindNumber:
		return v.Number != 0, true
	default:
		return false, false
	}
}

func (r reader) freshText(key string, maxAgeMs, nowMs int64) (string, bool) {
	v, ok := r.get(key)
	if !ok || v.Kind != KindText || !fresh(v, maxAgeMs, nowMs) {
		return "", false
	}
	return v.Text, true
}

func (r reader) isStale(key string, maxAgeMs, nowMs int64) bool {
	v, ok := r.get(key)
	return !ok || !fresh(v, maxAgeMs, nowMs)
}

func (r reader) optNumber(key string, nowMs int64) *float64 {
	if f, ok := r.freshNumber(key, r.opts.CapMaxAgeMs, nowMs); ok {
		return &f
	}
	return nil
}

func (r reader) caps(nowMs int64) (model.CapSnapshot, bool) {
	snap := model.CapSnapshot{
		GridImportLimitEffectiveW: r.optNumber(model.KeyCapImportLimitW, nowMs),
		PeakShavingLimitW:         r.optNumber(model.KeyCapPeakShavingLimitW, nowMs),
		PeakOverW:                 r.optNumber(model.KeyCapPeakOverW, nowMs),
		RequiredReductionW:        r.optNumber(model.KeyCapRequiredReductionW, nowMs),
	}
	if src, ok := r.freshText(model.KeyCapImportLimitSource, r.opts.CapMaxAgeMs, nowMs); ok {
		snap.GridImportLimitSource = src
	}
	ok := snap.GridImportLimitEffectiveW != nil || snap.PeakShavingLimitW != nil ||
		snap.PeakOverW != nil || snap.RequiredReductionW != nil
	return snap, ok
}

func (r reader) tariff(nowMs int64) (model.TariffSnapshot, bool) {
	maxAge := r.opts.TariffMaxAgeMs
	snap := model.TariffSnapshot{DischargeAllowed: true, GridChargeAllowed: true}
	active, okActive := r.freshBool(model.KeyTariffActive, maxAge, nowMs)
	desired, okDesired := r.freshNumber(model.KeyTariffDesiredW, maxAge, nowMs)
	if okActive && okDesired {
		snap.Active = active
		snap.DesiredWatts = desired
	}
	if st, ok := r.freshText(model.KeyTariffState, maxAge, nowMs); ok {
		snap.State = model.ParseTariffState(st)
	}
	if b, ok := r.freshBool(model.KeyTariffDischargeAllowed, maxAge, nowMs); ok {
		snap.DischargeAllowed = b
	}
	if b, ok := r.freshBool(model.KeyTariffGridChargeAllowed, maxAge, nowMs); ok {
		snap.GridChargeAllowed = b
	}
	return snap, okActive
}

func (r reader) assist(nowMs int64) float64 {
	if f, ok := r.freshNumber(model.KeyAssistRequestW, r.opts.AssistMaxAgeMs, nowMs); ok && f > 0 {
		return f
	}
	return 0
}
