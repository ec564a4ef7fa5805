package dispatch

import (
	"fmt"
	"math"

	"github.com/NexoWatt/nexowatt-ems/core/model"
)

// Decision is the arbitrated request of one cycle, before stabilization.
type Decision struct {
	Source      model.Source `json:"source"`
	TargetWatts float64      `json:"target_watts"` // negative = charge
	Reason      string       `json:"reason"`
	// DeadbandW is the policy specific contribution to the zero-band.
	DeadbandW                float64 `json:"deadband_w,omitempty"`
	HardDischargeFloorSocPct float64 `json:"hard_discharge_floor_soc_pct,omitempty"`
	HardChargeCeilingSocPct  float64 `json:"hard_charge_ceiling_soc_pct,omitempty"`
}

func idleDecision() Decision {
	return Decision{Source: model.SourceIdle, Reason: "no active policy"}
}

// cycle carries the per-cycle view shared by the policies and the stabilizer.
type cycle struct {
	cfg   *Config
	st    *State
	in    Inputs
	nowMs int64

	soc            float64
	gridW          float64
	importLimit    *float64
	reserveActive  bool
	gridCharge     bool
	discharge      bool
	batteryTrusted bool

	lockEngaged bool
}

type policy struct {
	source model.Source
	eval   func(*cycle) (Decision, bool)
}

// policies in safety priority order, highest first.
var policies = []policy{
	{model.SourceProtectiveDischarge, (*cycle).protectiveDischarge},
	{model.SourceEVAssist, (*cycle).evAssist},
	{model.SourceTariffCharge, (*cycle).tariffCharge},
	{model.SourceTariffDischarge, (*cycle).tariffDischarge},
	{model.SourceSelfConsumption, (*cycle).selfConsumption},
	{model.SourcePVSurplus, (*cycle).pvSurplus},
	{model.SourceReserveRefill, (*cycle).reserveRefill},
	{model.SourcePeakRefill, (*cycle).peakRefill},
}

// arbitrate returns the first policy decision whose preconditions hold.
func (c *cycle) arbitrate() Decision {
	for _, p := range policies {
		if d, ok := p.eval(c); ok {
			return d
		}
	}
	return idleDecision()
}

// prepare derives the cycle view and updates latches, permissions and the
// refill filter. It runs once per non-gated cycle before arbitration.
func (c *cycle) prepare() {
	cfg := c.cfg
	st := c.st
	c.soc = c.in.SoCPct
	c.gridW = c.in.GridW

	caps := c.in.Caps
	switch {
	case caps.GridImportLimitEffectiveW != nil:
		c.importLimit = caps.GridImportLimitEffectiveW
	case caps.PeakShavingLimitW != nil:
		c.importLimit = caps.PeakShavingLimitW
	}

	if cfg.PeakShaving.Enabled {
		st.Latches.Evaluate(latchProtective, c.soc, cfg.PeakShaving.MinSocPct,
			cfg.PeakShaving.MinSocPct+cfg.PeakShaving.SocHysteresisPct, EnableAbove)
	}
	if cfg.SelfConsumption.Enabled {
		st.Latches.Evaluate(latchSelf, c.soc, cfg.SelfConsumption.MinSocPct,
			cfg.SelfConsumption.MinSocPct+cfg.SelfConsumption.SocHysteresisPct, EnableAbove)
	}
	if cfg.Reserve.Enabled {
		st.Latches.Evaluate(latchReserve, c.soc, cfg.Reserve.MinSocPct, cfg.Reserve.TargetSocPct, EnableBelow)
	}
	if cfg.PeakRefill.Enabled {
		st.Latches.Evaluate(latchPeakRefill, c.soc, cfg.PeakRefill.StartSocPct, cfg.PeakRefill.MaxSocPct, EnableBelow)
	}
	c.reserveActive = c.in.EmergencyReserve || (cfg.Reserve.Enabled && st.Latches.Active(latchReserve))

	hold := cfg.Tariff.PermissionHoldMs
	c.gridCharge = st.TariffPermission.GridCharge.Update(c.in.Tariff.GridChargeAllowed, c.nowMs, hold)
	c.discharge = st.TariffPermission.Discharge.Update(c.in.Tariff.DischargeAllowed, c.nowMs, hold)

	c.batteryTrusted = c.in.BatteryOK && cfg.useBatteryPower()

	c.updateRefillFilter()
}

// ownCharge returns the charge magnitude the given source applied last cycle.
func (c *cycle) ownCharge(src model.Source) float64 {
	if c.st.LastSource == src && c.st.LastAppliedWatts < 0 {
		return float64(-c.st.LastAppliedWatts)
	}
	return 0
}

func (c *cycle) refillLimit() *float64 {
	if c.in.Caps.PeakShavingLimitW != nil {
		return c.in.Caps.PeakShavingLimitW
	}
	return c.in.Caps.GridImportLimitEffectiveW
}

func (c *cycle) updateRefillFilter() {
	cfg := c.cfg.PeakRefill
	st := c.st
	if !cfg.Enabled {
		return
	}
	base := math.Max(0, c.gridW-c.ownCharge(model.SourcePeakRefill))
	st.RefillFilter.Push(model.PowerSample{TimestampMs: c.nowMs, Watts: base})
	limit := c.refillLimit()
	avg, ok := st.RefillFilter.Mean()
	if limit == nil || !ok {
		st.RefillFilteredHeadroomW = nil
		return
	}
	headroom := math.Max(0, *limit-avg)
	v := filterHeadroom(st.RefillFilteredHeadroomW, headroom, cfg.DeadbandW)
	st.RefillFilteredHeadroomW = &v
}

func (c *cycle) protectiveDischarge() (Decision, bool) {
	cfg := c.cfg.PeakShaving
	if !cfg.Enabled || c.reserveActive || !c.st.Latches.Active(latchProtective) {
		return Decision{}, false
	}
	caps := c.in.Caps
	imp := c.gridW
	if c.in.GridRawOK && c.in.GridRawW > imp {
		imp = c.in.GridRawW
	}
	over := caps.PeakOverW != nil && *caps.PeakOverW > 0
	wasActive := c.st.LastSource == model.SourceProtectiveDischarge

	var errW float64
	switch {
	case caps.PeakShavingLimitW != nil:
		errW = imp - *caps.PeakShavingLimitW
		if errW <= 0 && !wasActive && !over {
			return Decision{}, false
		}
	case over:
		errW = *caps.PeakOverW
	default:
		return Decision{}, false
	}
	if rr := caps.RequiredReductionW; rr != nil && *rr > 0 && *rr > errW {
		errW = *rr
	}

	prev := 0.0
	if wasActive {
		prev = float64(c.st.LastAppliedWatts)
	}
	next := prev
	if errW >= 0 || errW < -cfg.ReleaseHysteresisW {
		next = prev + errW
	}
	if next <= 0 {
		return Decision{}, false
	}
	return Decision{
		Source:                   model.SourceProtectiveDischarge,
		TargetWatts:              next,
		Reason:                   fmt.Sprintf("import %.0f W, correction %+.0f W", imp, errW),
		HardDischargeFloorSocPct: cfg.MinSocPct,
	}, true
}

func (c *cycle) evAssist() (Decision, bool) {
	if !c.cfg.Assist.Enabled || c.in.AssistW <= 0 || !c.discharge || c.reserveActive {
		return Decision{}, false
	}
	floor := math.Max(c.cfg.Reserve.MinSocPct, c.cfg.SelfConsumption.MinSocPct)
	if c.soc <= floor {
		return Decision{}, false
	}
	w := clamp(c.in.AssistW, 0, c.cfg.MaxDischargeW)
	return Decision{
		Source:                   model.SourceEVAssist,
		TargetWatts:              w,
		Reason:                   fmt.Sprintf("ev assist request %.0f W", c.in.AssistW),
		HardDischargeFloorSocPct: floor,
	}, true
}

// forecastSocCap lowers the tariff charge target when enough PV energy is
// expected later.
func (c *cycle) forecastSocCap() float64 {
	tc := c.cfg.Tariff
	target := tc.ChargeTargetSocPct
	if tc.CapacityKWh <= 0 || !c.in.ForecastOK || c.in.ForecastKWh <= 0 {
		return target
	}
	capPct := target - c.in.ForecastKWh*tc.ForecastTrust/tc.CapacityKWh*100
	if capPct < tc.MinSocCapPct {
		capPct = tc.MinSocCapPct
	}
	return math.Min(capPct, target)
}

func (c *cycle) tariffCharge() (Decision, bool) {
	t := c.in.Tariff
	tc := c.cfg.Tariff
	if !tc.Enabled || !t.Active || t.DesiredWatts >= 0 || !c.gridCharge {
		return Decision{}, false
	}
	if c.gridW < 0 {
		return Decision{}, false
	}
	socCap := c.forecastSocCap()
	if c.soc >= socCap {
		return Decision{}, false
	}
	w := math.Min(-t.DesiredWatts, c.cfg.MaxChargeW)
	if c.importLimit != nil {
		headroom := *c.importLimit - c.gridW + c.ownCharge(model.SourceTariffCharge)
		w = math.Min(w, headroom)
	}
	if w <= 0 {
		return Decision{}, false
	}
	reason := fmt.Sprintf("tariff %s charge %.0f W", t.State, w)
	if socCap < tc.ChargeTargetSocPct {
		reason += fmt.Sprintf(" (forecast cap %.1f%%)", socCap)
	}
	return Decision{
		Source:                  model.SourceTariffCharge,
		TargetWatts:             -w,
		Reason:                  reason,
		HardChargeCeilingSocPct: tc.ChargeTargetSocPct,
	}, true
}

// balance computes the discharge that brings grid import to the configured
// target. With a trusted battery measurement it balances against the
// measured discharge, otherwise it corrects the previous setpoint.
func (c *cycle) balance(prevW float64) float64 {
	b := c.cfg.Balance
	errW := c.gridW - b.TargetImportW
	if math.Abs(errW) < b.DeadbandW {
		errW = 0
	}
	var next, current float64
	if c.batteryTrusted {
		next = c.in.BatteryW + errW
		current = math.Max(0, c.in.BatteryW)
	} else {
		next = prevW + errW
		current = math.Max(0, float64(c.st.LastAppliedWatts))
	}
	ceiling := math.Max(0, c.gridW) + current + b.MarginW
	return math.Min(next, ceiling)
}

func (c *cycle) tariffDischarge() (Decision, bool) {
	t := c.in.Tariff
	if !c.cfg.Tariff.Enabled || !t.Active || t.DesiredWatts <= 0 || !c.discharge || c.reserveActive {
		return Decision{}, false
	}
	floor := c.cfg.SelfConsumption.MinSocPct
	if c.soc <= floor {
		return Decision{}, false
	}
	prev := 0.0
	if c.st.LastAppliedWatts > 0 {
		prev = float64(c.st.LastAppliedWatts)
	}
	w := math.Min(c.balance(prev), t.DesiredWatts)
	if w <= 0 {
		return Decision{}, false
	}
	return Decision{
		Source:                   model.SourceTariffDischarge,
		TargetWatts:              w,
		Reason:                   fmt.Sprintf("tariff %s discharge", t.State),
		DeadbandW:                c.cfg.Balance.DeadbandW,
		HardDischargeFloorSocPct: floor,
	}, true
}

func (c *cycle) selfConsumption() (Decision, bool) {
	if !c.cfg.SelfConsumption.Enabled || c.reserveActive || !c.st.Latches.Active(latchSelf) {
		return Decision{}, false
	}
	if c.in.Tariff.Active && !c.discharge {
		return Decision{}, false
	}
	prev := 0.0
	if c.st.LastSource == model.SourceSelfConsumption {
		prev = float64(c.st.LastAppliedWatts)
	}
	w := c.balance(prev)
	if w <= 0 {
		return Decision{}, false
	}
	return Decision{
		Source:                   model.SourceSelfConsumption,
		TargetWatts:              w,
		Reason:                   fmt.Sprintf("grid %.0f W, target %.0f W", c.gridW, c.cfg.Balance.TargetImportW),
		DeadbandW:                c.cfg.Balance.DeadbandW,
		HardDischargeFloorSocPct: c.cfg.SelfConsumption.MinSocPct,
	}, true
}

// pvChargeLimit returns the tightest band limit that applies at socPct.
func (c *cycle) pvChargeLimit() float64 {
	limit := c.cfg.MaxChargeW
	for _, b := range c.cfg.PVSurplus.Bands {
		if c.soc >= b.SocPct && b.MaxChargeW < limit {
			limit = b.MaxChargeW
		}
	}
	return limit
}

func (c *cycle) pvSurplus() (Decision, bool) {
	cfg := c.cfg.PVSurplus
	if !cfg.Enabled || c.soc >= cfg.MaxSocPct {
		return Decision{}, false
	}
	var own float64
	if c.batteryTrusted {
		own = math.Max(0, -c.in.BatteryW)
	} else {
		own = c.ownCharge(model.SourcePVSurplus)
	}
	var surplus float64
	if c.in.PVExportOK {
		surplus = c.in.PVExportW + own - math.Max(0, c.gridW)
	} else {
		surplus = own - c.gridW
	}
	threshold := cfg.ExportThresholdW
	if c.st.LastSource == model.SourcePVSurplus {
		threshold = cfg.ExportReleaseW
	}
	if surplus < threshold {
		return Decision{}, false
	}
	w := clamp(surplus+cfg.BiasW, 0, c.pvChargeLimit())
	if w <= 0 {
		return Decision{}, false
	}
	return Decision{
		Source:                  model.SourcePVSurplus,
		TargetWatts:             -w,
		Reason:                  fmt.Sprintf("pv surplus %.0f W", surplus),
		HardChargeCeilingSocPct: cfg.MaxSocPct,
	}, true
}

func (c *cycle) reserveRefill() (Decision, bool) {
	cfg := c.cfg.Reserve
	if !cfg.Enabled || !c.st.Latches.Active(latchReserve) || !c.gridCharge {
		return Decision{}, false
	}
	w := math.Min(cfg.ChargeW, c.cfg.MaxChargeW)
	if c.importLimit != nil {
		w = math.Min(w, *c.importLimit-c.gridW+c.ownCharge(model.SourceReserveRefill))
	}
	if w <= 0 {
		return Decision{}, false
	}
	return Decision{
		Source:                  model.SourceReserveRefill,
		TargetWatts:             -w,
		Reason:                  fmt.Sprintf("reserve below %.1f%%", cfg.TargetSocPct),
		HardChargeCeilingSocPct: cfg.TargetSocPct,
	}, true
}

func (c *cycle) peakRefill() (Decision, bool) {
	cfg := c.cfg.PeakRefill
	st := c.st
	if !cfg.Enabled || !st.Latches.Active(latchPeakRefill) {
		st.RefillHoldW = nil
		return Decision{}, false
	}
	if !c.gridCharge {
		return Decision{}, false
	}
	if st.LastProtectiveDischargeMs > 0 && c.nowMs-st.LastProtectiveDischargeMs < cfg.CooldownMs {
		return Decision{}, false
	}
	h := st.RefillFilteredHeadroomW
	margin := math.Max(cfg.HysteresisW, math.Max(c.cfg.StepW, cfg.MinMarginW))
	if h == nil || *h-margin <= 0 {
		st.RefillHoldW = nil
		return Decision{}, false
	}
	candidate := *h - margin
	switch {
	case st.RefillHoldW == nil, candidate < *st.RefillHoldW:
		st.RefillHoldW = &candidate
	case candidate > *st.RefillHoldW+c.cfg.StepW:
		st.RefillHoldW = &candidate
	}
	w := math.Floor(*st.RefillHoldW/c.cfg.StepW) * c.cfg.StepW
	w = math.Min(w, c.cfg.MaxChargeW)
	if w <= 0 {
		return Decision{}, false
	}
	return Decision{
		Source:                  model.SourcePeakRefill,
		TargetWatts:             -w,
		Reason:                  fmt.Sprintf("refill headroom %.0f W", *h),
		DeadbandW:               cfg.HysteresisW,
		HardChargeCeilingSocPct: cfg.MaxSocPct,
	}, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
