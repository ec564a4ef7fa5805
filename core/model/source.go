package model

import "strings"

// Source identifies the policy that produced a setpoint.
type Source int

const (
	SourceIdle Source = iota
	SourceProtectiveDischarge
	SourceEVAssist
	SourceTariffCharge
	SourceTariffDischarge
	SourceSelfConsumption
	SourcePVSurplus
	SourceReserveRefill
	SourcePeakRefill
)

// Sources lists every policy source in arbitration order, idle last.
var Sources = []Source{
	SourceProtectiveDischarge,
	SourceEVAssist,
	SourceTariffCharge,
	SourceTariffDischarge,
	SourceSelfConsumption,
	SourcePVSurplus,
	SourceReserveRefill,
	SourcePeakRefill,
	SourceIdle,
}

// String returns the stable identifier used in logs, metrics and traces.
func (s Source) String() string {
	switch s {
	case SourceIdle:
		return "idle"
	case SourceProtectiveDischarge:
		return "protective_discharge"
	case SourceEVAssist:
		return "ev_assist"
	case SourceTariffCharge:
		return "tariff_charge"
	case SourceTariffDischarge:
		return "tariff_discharge"
	case SourceSelfConsumption:
		return "self_consumption"
	case SourcePVSurplus:
		return "pv_surplus"
	case SourceReserveRefill:
		return "reserve_refill"
	case SourcePeakRefill:
		return "peak_refill"
	default:
		return "unknown"
	}
}

// IsTariff reports whether the source is one of the tariff-driven policies.
func (s Source) IsTariff() bool {
	return s == SourceTariffCharge || s == SourceTariffDischarge
}

// ParseSource converts an identifier produced by String back to a Source.
func ParseSource(v string) (Source, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, s := range Sources {
		if s.String() == v {
			return s, true
		}
	}
	return SourceIdle, false
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown values decode to idle.
func (s *Source) UnmarshalText(b []byte) error {
	v, _ := ParseSource(string(b))
	*s = v
	return nil
}
