package dispatch

import "github.com/NexoWatt/nexowatt-ems/core/model"

// Latch identifiers.
const (
	latchProtective = "protective_discharge"
	latchSelf       = "self_consumption"
	latchReserve    = "reserve_refill"
	latchPeakRefill = "peak_refill"
)

// TariffPermission holds the debounced tariff permission flags.
type TariffPermission struct {
	GridCharge DebouncedBool `json:"grid_charge"`
	Discharge  DebouncedBool `json:"discharge"`
}

// State is everything that survives between cycles of one dispatcher. It is
// owned by a single Dispatcher and never shared.
type State struct {
	LastAppliedWatts          int
	LastSource                model.Source
	LastReason                string
	SignLockUntilMs           int64
	SignLockReason            string
	LastProtectiveDischargeMs int64
	Latches                   LatchSet
	RefillFilter              *RollingWindow
	RefillFilteredHeadroomW   *float64
	RefillHoldW               *float64
	TariffPermission          TariffPermission

	// bounds of the last non-idle decision
	lastDischargeFloorPct float64
	lastChargeCeilingPct  float64
}

// NewState returns the cold-start state: previous setpoint zero, source idle,
// all latches off and tariff permissions granted.
func NewState(cfg Config) *State {
	return &State{
		LastSource:            model.SourceIdle,
		Latches:               LatchSet{},
		RefillFilter:          NewRollingWindow(cfg.PeakRefill.WindowS),
		TariffPermission:      TariffPermission{GridCharge: newAllowed(0), Discharge: newAllowed(0)},
		lastDischargeFloorPct: cfg.Safety.MinSocPct,
		lastChargeCeilingPct:  cfg.Safety.MaxSocPct,
	}
}

// StateSnapshot is a read-only copy of State for status reporting.
type StateSnapshot struct {
	LastAppliedWatts          int             `json:"last_applied_watts"`
	LastSource                model.Source    `json:"last_source"`
	LastReason                string          `json:"last_reason"`
	SignLockUntilMs           int64           `json:"sign_lock_until_ms"`
	SignLockReason            string          `json:"sign_lock_reason,omitempty"`
	LastProtectiveDischargeMs int64           `json:"last_protective_discharge_ms"`
	Latches                   map[string]bool `json:"latches"`
	RefillSamples             int             `json:"refill_samples"`
	RefillFilteredHeadroomW   *float64        `json:"refill_filtered_headroom_w,omitempty"`
	RefillHoldW               *float64        `json:"refill_hold_w,omitempty"`
	GridChargeAllowed         bool            `json:"grid_charge_allowed"`
	DischargeAllowed          bool            `json:"discharge_allowed"`
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Snapshot copies the state.
func (s *State) Snapshot() StateSnapshot {
	return StateSnapshot{
		LastAppliedWatts:          s.LastAppliedWatts,
		LastSource:                s.LastSource,
		LastReason:                s.LastReason,
		SignLockUntilMs:           s.SignLockUntilMs,
		SignLockReason:            s.SignLockReason,
		LastProtectiveDischargeMs: s.LastProtectiveDischargeMs,
		Latches:                   s.Latches.clone(),
		RefillSamples:             s.RefillFilter.Len(),
		RefillFilteredHeadroomW:   copyFloat(s.RefillFilteredHeadroomW),
		RefillHoldW:               copyFloat(s.RefillHoldW),
		GridChargeAllowed:         s.TariffPermission.GridCharge.Value,
		DischargeAllowed:          s.TariffPermission.Discharge.Value,
	}
}
