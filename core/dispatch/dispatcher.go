package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/NexoWatt/nexowatt-ems/core/logger"
	"github.com/NexoWatt/nexowatt-ems/core/model"
)

// Result is the outcome of one dispatcher cycle.
type Result struct {
	UnitID          string        `json:"unit_id"`
	TimestampMs     int64         `json:"timestamp_ms"`
	Watts           int           `json:"watts"`
	PrevWatts       int           `json:"prev_watts"`
	Source          model.Source  `json:"source"`
	Reason          string        `json:"reason"`
	Decision        Decision      `json:"decision"`
	Trace           Trace         `json:"trace"`
	Gated           bool          `json:"gated"`
	SignLockEngaged bool          `json:"sign_lock_engaged"`
	SoCPct          float64       `json:"soc_pct"`
	GridW           float64       `json:"grid_w"`
	Applied         bool          `json:"applied"`
	WriteErr        error         `json:"-"`
	WriteLatency    time.Duration `json:"write_latency"`
}

// Dispatcher turns the inputs of one storage unit into one stabilized
// setpoint per cycle. It is not safe for concurrent use; cycles of the same
// dispatcher must never overlap.
type Dispatcher struct {
	unitID string
	cfg    Config
	state  *State
	src    InputSource
	writer SetpointWriter
	log    logger.Logger
}

// NewDispatcher validates cfg and returns a dispatcher in cold-start state.
func NewDispatcher(unitID string, cfg Config, src InputSource, w SetpointWriter, log logger.Logger) (*Dispatcher, error) {
	if src == nil || w == nil || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewDispatcher")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("unit %s: %w", unitID, err)
	}
	return &Dispatcher{
		unitID: unitID,
		cfg:    cfg,
		state:  NewState(cfg),
		src:    src,
		writer: w,
		log:    log,
	}, nil
}

// UnitID returns the storage unit identifier.
func (d *Dispatcher) UnitID() string { return d.unitID }

// Config returns the resolved configuration.
func (d *Dispatcher) Config() Config { return d.cfg }

// State returns a snapshot of the dispatcher state.
func (d *Dispatcher) State() StateSnapshot { return d.state.Snapshot() }

// Cycle reads inputs, computes the setpoint and writes it. Write failures are
// reported in the result; the computed value is kept as the last applied
// setpoint either way.
func (d *Dispatcher) Cycle(ctx context.Context, now time.Time) Result {
	nowMs := now.UnixMilli()
	in := ReadInputs(d.src, d.cfg, nowMs)
	res := d.Step(in, nowMs)

	start := time.Now()
	applied, err := d.writer.WriteSetpoint(ctx, res.Watts)
	res.WriteLatency = time.Since(start)
	res.Applied = applied && err == nil
	if err != nil {
		res.WriteErr = fmt.Errorf("write setpoint %d W: %w", res.Watts, err)
		d.log.Warnf("unit %s: %v", d.unitID, res.WriteErr)
	}
	return res
}

// gate returns a reason when the cycle must output zero without evaluation.
func (d *Dispatcher) gate(in Inputs) (string, bool) {
	switch {
	case d.cfg.Disabled || !in.Enabled:
		return "disabled", true
	case !in.GridOK:
		return "grid power missing or stale", true
	case !in.SoCOK:
		return "soc missing or stale", true
	}
	return "", false
}

// Step runs one cycle on already gathered inputs. It is a pure function of
// the state, the inputs and nowMs, apart from mutating the state.
func (d *Dispatcher) Step(in Inputs, nowMs int64) Result {
	in.sanitize()
	st := d.state
	res := Result{UnitID: d.unitID, TimestampMs: nowMs, PrevWatts: st.LastAppliedWatts, SoCPct: in.SoCPct, GridW: in.GridW}

	if reason, gated := d.gate(in); gated {
		res.Gated = true
		res.Source = model.SourceIdle
		res.Reason = reason
		res.Decision = Decision{Source: model.SourceIdle, Reason: reason}
		res.Trace = Trace{Source: model.SourceIdle, Reason: reason}
		res.Trace.add(StageRequest, 0, reason)
		res.Trace.add(StageFinal, 0, "")
		st.LastAppliedWatts = 0
		st.LastSource = model.SourceIdle
		st.LastReason = reason
		d.log.Debugf("unit %s gated: %s", d.unitID, reason)
		return res
	}

	c := &cycle{cfg: &d.cfg, st: st, in: in, nowMs: nowMs}
	c.prepare()
	dec := c.arbitrate()

	var tr Trace
	out := c.stabilize(dec, &tr)

	if dec.Source != model.SourceIdle {
		if dec.TargetWatts > 0 && dec.HardDischargeFloorSocPct > 0 {
			st.lastDischargeFloorPct = dec.HardDischargeFloorSocPct
		}
		if dec.TargetWatts < 0 && dec.HardChargeCeilingSocPct > 0 {
			st.lastChargeCeilingPct = dec.HardChargeCeilingSocPct
		}
	}
	st.LastAppliedWatts = out.watts
	st.LastSource = out.source
	st.LastReason = out.reason
	if out.source == model.SourceProtectiveDischarge && out.watts > 0 {
		st.LastProtectiveDischargeMs = nowMs
	}

	res.Watts = out.watts
	res.Source = out.source
	res.Reason = out.reason
	res.Decision = dec
	res.Trace = tr
	res.SignLockEngaged = c.lockEngaged

	if c.lockEngaged {
		d.log.Infof("unit %s sign-lock engaged until %d: %s", d.unitID, st.SignLockUntilMs, st.SignLockReason)
	}
	fields := tr.Fields()
	fields["unit_id"] = d.unitID
	fields["winner"] = dec.Source.String()
	d.log.Debugw("dispatch cycle", fields)
	return res
}
