package config

import (
	"errors"
	"fmt"

	"github.com/NexoWatt/nexowatt-ems/core/dispatch"
)

// UnitConfig describes one storage unit of the fleet. Zero limits inherit
// the values of the dispatch section.
type UnitConfig struct {
	ID            string  `json:"id"`
	MaxChargeW    float64 `json:"max_charge_w"`
	MaxDischargeW float64 `json:"max_discharge_w"`
	// CapacityKWh overrides dispatch.tariff.capacity_kwh for this unit.
	CapacityKWh float64 `json:"capacity_kwh"`
	Disabled    bool    `json:"disabled"`
}

// DispatchConfig returns the dispatcher configuration of unit u.
func (u UnitConfig) DispatchConfig(base dispatch.Config) dispatch.Config {
	cfg := base
	cfg.PVSurplus.Bands = append([]dispatch.SocBand(nil), base.PVSurplus.Bands...)
	if u.MaxChargeW > 0 {
		cfg.MaxChargeW = u.MaxChargeW
	}
	if u.MaxDischargeW > 0 {
		cfg.MaxDischargeW = u.MaxDischargeW
	}
	if u.CapacityKWh > 0 {
		cfg.Tariff.CapacityKWh = u.CapacityKWh
	}
	if u.Disabled {
		cfg.Disabled = true
	}
	return cfg
}

func validateUnits(units []UnitConfig, base dispatch.Config) error {
	if len(units) == 0 {
		return errors.New("units: at least one unit is required")
	}
	seen := make(map[string]bool, len(units))
	var errs []error
	for i, u := range units {
		if u.ID == "" {
			errs = append(errs, fmt.Errorf("units[%d]: id is required", i))
			continue
		}
		if seen[u.ID] {
			errs = append(errs, fmt.Errorf("units[%d]: duplicate id %q", i, u.ID))
			continue
		}
		seen[u.ID] = true
		if u.MaxChargeW < 0 || u.MaxDischargeW < 0 || u.CapacityKWh < 0 {
			errs = append(errs, fmt.Errorf("unit %s: limits must not be negative", u.ID))
			continue
		}
		if err := u.DispatchConfig(base).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("unit %s: %w", u.ID, err))
		}
	}
	return errors.Join(errs...)
}
