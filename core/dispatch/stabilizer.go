package dispatch

import (
	"fmt"
	"math"

	"github.com/NexoWatt/nexowatt-ems/core/model"
)

// outcome is the stabilized result of a decision.
type outcome struct {
	watts     int
	source    model.Source
	reason    string
	hardBound string
}

func (c *cycle) quantize(w float64) float64 {
	step := c.cfg.StepW
	q := math.Round(w/step) * step
	if q > c.cfg.MaxDischargeW {
		q = math.Floor(c.cfg.MaxDischargeW/step) * step
	}
	if q < -c.cfg.MaxChargeW {
		q = -math.Floor(c.cfg.MaxChargeW/step) * step
	}
	return q
}

func (c *cycle) zeroBand(d Decision) float64 {
	classMin := c.cfg.ZeroBandMinW
	if d.Source == model.SourceProtectiveDischarge {
		classMin = c.cfg.PeakShaving.ZeroBandMinW
	}
	return math.Max(d.DeadbandW, math.Max(c.cfg.StepW, classMin))
}

// ramp bounds the change against prev. The class follows the active source,
// or the previous source when the request is idle.
func (c *cycle) ramp(prev, w float64, src model.Source) float64 {
	class := src
	if class == model.SourceIdle {
		class = c.st.LastSource
	}
	r := c.cfg.Ramp
	switch class {
	case model.SourcePVSurplus:
		if w < prev {
			return math.Max(w, prev-r.PVSurplusW)
		}
		return w
	case model.SourceProtectiveDischarge:
		return clamp(w, prev-r.PeakShavingW, prev+r.PeakShavingW)
	default:
		return clamp(w, prev-r.DefaultW, prev+r.DefaultW)
	}
}

// bounds returns the discharge floor and charge ceiling in force. Decisions
// that do not set a bound for their direction fall back to the bounds of the
// last non-idle decision.
func (c *cycle) bounds(d Decision) (floor, ceiling float64) {
	floor = c.st.lastDischargeFloorPct
	if d.TargetWatts > 0 && d.HardDischargeFloorSocPct > 0 {
		floor = d.HardDischargeFloorSocPct
	}
	ceiling = c.st.lastChargeCeilingPct
	if d.TargetWatts < 0 && d.HardChargeCeilingSocPct > 0 {
		ceiling = d.HardChargeCeilingSocPct
	}
	floor = math.Max(floor, c.cfg.Safety.MinSocPct)
	ceiling = math.Min(ceiling, c.cfg.Safety.MaxSocPct)
	return floor, ceiling
}

// stabilize runs clamp, quantize, dead-band, sign-lock, ramp and the hard
// SoC re-check on the decision and records each stage in tr.
func (c *cycle) stabilize(d Decision, tr *Trace) outcome {
	cfg := c.cfg
	st := c.st
	prev := float64(st.LastAppliedWatts)
	src, reason := d.Source, d.Reason

	w := d.TargetWatts
	tr.add(StageRequest, w, src.String())

	w = clamp(w, -cfg.MaxChargeW, cfg.MaxDischargeW)
	tr.add(StageClamp, w, "")

	w = c.quantize(w)
	tr.add(StageQuantize, w, "")

	zb := c.zeroBand(d)
	tr.ZeroBandW = zb
	note := ""
	if w != 0 && math.Abs(w) < zb {
		w = 0
		note = fmt.Sprintf("below %.0f W", zb)
	}
	if w == 0 && src != model.SourceIdle {
		reason = fmt.Sprintf("%s below zero-band", src)
		src = model.SourceIdle
	}
	tr.add(StageDeadband, w, note)

	locked := false
	note = ""
	bypass := d.Source == model.SourceProtectiveDischarge && w > 0
	if !bypass && w != 0 {
		switch {
		case c.nowMs < st.SignLockUntilMs:
			locked = true
			note = fmt.Sprintf("held until %d", st.SignLockUntilMs)
		case prev != 0 && (prev > 0) != (w > 0) && math.Abs(prev) >= zb && math.Abs(w) >= zb:
			locked = true
			c.lockEngaged = true
			st.SignLockUntilMs = c.nowMs + cfg.signLockHoldMs()
			st.SignLockReason = fmt.Sprintf("%s requested %.0f W after %d W", src, w, st.LastAppliedWatts)
			note = st.SignLockReason
		}
	} else if bypass && c.nowMs < st.SignLockUntilMs {
		note = "bypassed"
	}
	if locked {
		w = 0
		src = model.SourceIdle
		reason = "sign-lock"
	}
	tr.add(StageSignLock, w, note)
	tr.SignLocked = locked
	if st.SignLockUntilMs > c.nowMs {
		tr.LockUntilMs = st.SignLockUntilMs
	}

	// A sign-lock zero is final for this cycle and is never ramp limited.
	if !locked {
		w = c.ramp(prev, w, src)
		if w != 0 && src == model.SourceIdle {
			src = st.LastSource
			reason = "ramp-down"
		}
	}
	tr.add(StageRamp, w, "")

	out := outcome{source: src, reason: reason}
	floor, ceiling := c.bounds(d)
	switch {
	case w > 0 && c.reserveActive:
		out.hardBound = "emergency reserve active"
	case w > 0 && c.soc <= floor:
		out.hardBound = fmt.Sprintf("soc %.1f%% at or below discharge floor %.1f%%", c.soc, floor)
	case w < 0 && c.soc >= ceiling:
		out.hardBound = fmt.Sprintf("soc %.1f%% at or above charge ceiling %.1f%%", c.soc, ceiling)
	}
	if out.hardBound != "" {
		w = 0
		out.source = model.SourceIdle
		out.reason = "hard bound: " + out.hardBound
	}
	tr.HardBound = out.hardBound

	if !finite(w) {
		w = 0
		out.source = model.SourceIdle
		out.reason = "non-finite setpoint"
	}
	final := int(math.Round(w))
	maxD := int(math.Floor(cfg.MaxDischargeW))
	maxC := int(math.Floor(cfg.MaxChargeW))
	if final > maxD {
		final = maxD
	}
	if final < -maxC {
		final = -maxC
	}
	if final == 0 {
		out.source = model.SourceIdle
	}
	out.watts = final
	tr.add(StageFinal, float64(final), "")
	tr.Source = out.source
	tr.Reason = out.reason
	return out
}
