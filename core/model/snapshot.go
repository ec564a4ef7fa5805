package model

import "strings"

// PowerSample is a single timestamped power reading.
type PowerSample struct {
	TimestampMs int64   `json:"ts"`
	Watts       float64 `json:"watts"`
}

// CapSnapshot is the output of the cap aggregator, refreshed once per cycle.
// Nil pointers mean the value is not provided by any cap source.
type CapSnapshot struct {
	GridImportLimitEffectiveW *float64 `json:"grid_import_limit_effective_w,omitempty"`
	GridImportLimitSource     string   `json:"grid_import_limit_source,omitempty"`
	PeakShavingLimitW         *float64 `json:"peak_shaving_limit_w,omitempty"`
	PeakOverW                 *float64 `json:"peak_over_w,omitempty"`
	RequiredReductionW        *float64 `json:"required_reduction_w,omitempty"`
}

// TariffState classifies the current price window.
type TariffState int

const (
	TariffUnknown TariffState = iota
	TariffCheap
	TariffNeutral
	TariffExpensive
)

func (t TariffState) String() string {
	switch t {
	case TariffCheap:
		return "cheap"
	case TariffNeutral:
		return "neutral"
	case TariffExpensive:
		return "expensive"
	default:
		return "unknown"
	}
}

// ParseTariffState maps a textual state to a TariffState. Unknown text maps to TariffUnknown.
func ParseTariffState(v string) TariffState {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "cheap":
		return TariffCheap
	case "neutral":
		return TariffNeutral
	case "expensive":
		return TariffExpensive
	default:
		return TariffUnknown
	}
}

// TariffSnapshot is the output of the price classification state machine.
type TariffSnapshot struct {
	Active            bool        `json:"active"`
	DesiredWatts      float64     `json:"desired_watts"` // negative = charge, positive = discharge
	State             TariffState `json:"state"`
	DischargeAllowed  bool        `json:"discharge_allowed"`
	GridChargeAllowed bool        `json:"grid_charge_allowed"`
}
