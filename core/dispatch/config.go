package dispatch

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("dispatch: invalid config")

// RampConfig bounds the setpoint change per cycle for each policy class.
type RampConfig struct {
	DefaultW     float64 `json:"default_w"`
	PeakShavingW float64 `json:"peak_shaving_w"`
	PVSurplusW   float64 `json:"pv_surplus_w"`
}

// SafetyConfig holds the absolute SoC bounds that no policy may relax.
type SafetyConfig struct {
	MinSocPct float64 `json:"min_soc_pct"`
	MaxSocPct float64 `json:"max_soc_pct"`
}

// PeakShavingConfig configures protective discharge against the import limit.
type PeakShavingConfig struct {
	Enabled            bool    `json:"enabled"`
	MinSocPct          float64 `json:"min_soc_pct"`
	SocHysteresisPct   float64 `json:"soc_hysteresis_pct"`
	ReleaseHysteresisW float64 `json:"release_hysteresis_w"`
	ReleaseDelayMs     int64   `json:"release_delay_ms"`
	ZeroBandMinW       float64 `json:"zero_band_min_w"`
	RawMaxAgeMs        int64   `json:"raw_max_age_ms"`
}

// AssistConfig configures EV-charging assist.
type AssistConfig struct {
	Enabled bool `json:"enabled"`
}

// TariffConfig configures the price driven policies.
type TariffConfig struct {
	Enabled            bool    `json:"enabled"`
	ChargeTargetSocPct float64 `json:"charge_target_soc_pct"`
	PermissionHoldMs   int64   `json:"permission_hold_ms"`
	// Forecast suppression of grid charging. Disabled when CapacityKWh is 0.
	CapacityKWh      float64 `json:"capacity_kwh"`
	ForecastTrust    float64 `json:"forecast_trust"`
	MinSocCapPct     float64 `json:"min_soc_cap_pct"`
	ForecastMaxAgeMs int64   `json:"forecast_max_age_ms"`
}

// BalanceConfig parameterises the balancing/incremental discharge law.
type BalanceConfig struct {
	TargetImportW float64 `json:"target_import_w"`
	DeadbandW     float64 `json:"deadband_w"`
	MarginW       float64 `json:"margin_w"`
}

// SelfConsumptionConfig configures self-consumption discharge.
type SelfConsumptionConfig struct {
	Enabled          bool    `json:"enabled"`
	MinSocPct        float64 `json:"min_soc_pct"`
	SocHysteresisPct float64 `json:"soc_hysteresis_pct"`
}

// SocBand limits charging power once SoC reaches SocPct.
type SocBand struct {
	SocPct     float64 `json:"soc_pct"`
	MaxChargeW float64 `json:"max_charge_w"`
}

// PVSurplusConfig configures PV-surplus charging.
type PVSurplusConfig struct {
	Enabled          bool      `json:"enabled"`
	ExportThresholdW float64   `json:"export_threshold_w"`
	ExportReleaseW   float64   `json:"export_release_w"`
	BiasW            float64   `json:"bias_w"`
	MaxSocPct        float64   `json:"max_soc_pct"`
	ExportMaxAgeMs   int64     `json:"export_max_age_ms"`
	Bands            []SocBand `json:"bands"`
}

// ReserveConfig configures the emergency reserve refill.
type ReserveConfig struct {
	Enabled      bool    `json:"enabled"`
	MinSocPct    float64 `json:"min_soc_pct"`
	TargetSocPct float64 `json:"target_soc_pct"`
	ChargeW      float64 `json:"charge_w"`
}

// PeakRefillConfig configures pre-emptive refill ahead of a peak.
type PeakRefillConfig struct {
	Enabled     bool    `json:"enabled"`
	StartSocPct float64 `json:"start_soc_pct"`
	MaxSocPct   float64 `json:"max_soc_pct"`
	WindowS     float64 `json:"window_s"`
	DeadbandW   float64 `json:"deadband_w"`
	HysteresisW float64 `json:"hysteresis_w"`
	MinMarginW  float64 `json:"min_margin_w"`
	CooldownMs  int64   `json:"cooldown_ms"`
}

// Config holds every dispatcher parameter. It is resolved once by
// SetDefaults and Validate; the cycle never looks up defaults.
type Config struct {
	Disabled             bool    `json:"disabled"`
	MaxChargeW           float64 `json:"max_charge_w"`
	MaxDischargeW        float64 `json:"max_discharge_w"`
	StepW                float64 `json:"step_w"`
	ZeroBandMinW         float64 `json:"zero_band_min_w"`
	GridMaxAgeMs         int64   `json:"grid_max_age_ms"`
	SocMaxAgeMs          int64   `json:"soc_max_age_ms"`
	ControlMaxAgeMs      int64   `json:"control_max_age_ms"`
	BatteryPowerMaxAgeMs int64   `json:"battery_power_max_age_ms"`
	UseBatteryPower      *bool   `json:"use_battery_power,omitempty"`
	SignLockHoldMs       int64   `json:"sign_lock_hold_ms"`

	Ramp            RampConfig            `json:"ramp"`
	Safety          SafetyConfig          `json:"safety"`
	PeakShaving     PeakShavingConfig     `json:"peak_shaving"`
	Assist          AssistConfig          `json:"assist"`
	Tariff          TariffConfig          `json:"tariff"`
	Balance         BalanceConfig         `json:"balance"`
	SelfConsumption SelfConsumptionConfig `json:"self_consumption"`
	PVSurplus       PVSurplusConfig       `json:"pv_surplus"`
	Reserve         ReserveConfig         `json:"reserve"`
	PeakRefill      PeakRefillConfig      `json:"peak_refill"`
}

// DefaultConfig returns a configuration with every policy enabled except
// peak refill and all values defaulted. Settings for which 0 is a valid choice
// are seeded here rather than in SetDefaults, so configuration decoded on top
// of DefaultConfig can set them to 0.
func DefaultConfig() Config {
	c := Config{
		PeakShaving: PeakShavingConfig{
			Enabled:            true,
			SocHysteresisPct:   5,
			ReleaseHysteresisW: 200,
		},
		Assist: AssistConfig{Enabled: true},
		Tariff: TariffConfig{Enabled: true},
		Balance: BalanceConfig{
			TargetImportW: 50,
			DeadbandW:     30,
			MarginW:       100,
		},
		SelfConsumption: SelfConsumptionConfig{Enabled: true, SocHysteresisPct: 5},
		PVSurplus:       PVSurplusConfig{Enabled: true},
		Reserve:         ReserveConfig{Enabled: true},
	}
	c.SetDefaults()
	return c
}

func defaultF(v *float64, d float64) {
	if *v == 0 {
		*v = d
	}
}

func defaultI(v *int64, d int64) {
	if *v == 0 {
		*v = d
	}
}

// SetDefaults fills zero values of settings that must be non-zero. Hysteresis
// and balancing offsets keep whatever was set, including 0.
func (c *Config) SetDefaults() {
	defaultF(&c.MaxChargeW, 5000)
	defaultF(&c.MaxDischargeW, 5000)
	defaultF(&c.StepW, 50)
	defaultF(&c.ZeroBandMinW, 100)
	defaultI(&c.GridMaxAgeMs, 15000)
	defaultI(&c.SocMaxAgeMs, 60000)
	defaultI(&c.ControlMaxAgeMs, 60000)
	defaultI(&c.BatteryPowerMaxAgeMs, 10000)
	if c.UseBatteryPower == nil {
		v := true
		c.UseBatteryPower = &v
	}
	defaultI(&c.SignLockHoldMs, 5000)

	defaultF(&c.Ramp.DefaultW, 2500)
	defaultF(&c.Ramp.PeakShavingW, 5000)
	defaultF(&c.Ramp.PVSurplusW, 1500)

	defaultF(&c.Safety.MinSocPct, 5)
	defaultF(&c.Safety.MaxSocPct, 100)

	defaultF(&c.PeakShaving.MinSocPct, 20)
	defaultF(&c.PeakShaving.ZeroBandMinW, 50)
	defaultI(&c.PeakShaving.RawMaxAgeMs, 5000)

	defaultF(&c.Tariff.ChargeTargetSocPct, 90)
	defaultI(&c.Tariff.PermissionHoldMs, 30000)
	defaultF(&c.Tariff.ForecastTrust, 0.7)
	defaultF(&c.Tariff.MinSocCapPct, 30)
	defaultI(&c.Tariff.ForecastMaxAgeMs, 6*3600*1000)

	defaultF(&c.SelfConsumption.MinSocPct, 20)

	defaultF(&c.PVSurplus.ExportThresholdW, 200)
	defaultF(&c.PVSurplus.ExportReleaseW, 50)
	defaultF(&c.PVSurplus.MaxSocPct, 100)
	defaultI(&c.PVSurplus.ExportMaxAgeMs, 15000)
	if c.PVSurplus.Bands == nil {
		c.PVSurplus.Bands = []SocBand{{SocPct: 90, MaxChargeW: 1000}, {SocPct: 95, MaxChargeW: 500}}
	}

	defaultF(&c.Reserve.MinSocPct, 10)
	defaultF(&c.Reserve.TargetSocPct, 20)
	defaultF(&c.Reserve.ChargeW, 1000)

	defaultF(&c.PeakRefill.StartSocPct, 60)
	defaultF(&c.PeakRefill.MaxSocPct, 90)
	defaultF(&c.PeakRefill.WindowS, 120)
	defaultF(&c.PeakRefill.DeadbandW, 200)
	defaultF(&c.PeakRefill.HysteresisW, 200)
	defaultF(&c.PeakRefill.MinMarginW, 300)
	defaultI(&c.PeakRefill.CooldownMs, 15*60*1000)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func checkBand(name string, low, high float64) error {
	if low < 0 || high > 100 || low >= high {
		return invalid("%s: band %.1f..%.1f must satisfy 0 <= low < high <= 100", name, low, high)
	}
	return nil
}

// Validate checks the configuration and returns every violation found.
func (c Config) Validate() error {
	var errs []error
	if c.MaxChargeW <= 0 {
		errs = append(errs, invalid("max_charge_w must be > 0"))
	}
	if c.MaxDischargeW <= 0 {
		errs = append(errs, invalid("max_discharge_w must be > 0"))
	}
	if c.StepW <= 0 {
		errs = append(errs, invalid("step_w must be > 0"))
	}
	if c.ZeroBandMinW < 0 || c.PeakShaving.ZeroBandMinW < 0 {
		errs = append(errs, invalid("zero band minimum must be >= 0"))
	}
	if c.GridMaxAgeMs <= 0 || c.SocMaxAgeMs <= 0 || c.BatteryPowerMaxAgeMs <= 0 {
		errs = append(errs, invalid("measurement max ages must be > 0"))
	}
	if c.SignLockHoldMs < 0 || c.PeakShaving.ReleaseDelayMs < 0 {
		errs = append(errs, invalid("hold durations must be >= 0"))
	}
	if c.Ramp.DefaultW <= 0 || c.Ramp.PeakShavingW <= 0 || c.Ramp.PVSurplusW <= 0 {
		errs = append(errs, invalid("ramp rates must be > 0"))
	}
	if err := checkBand("safety", c.Safety.MinSocPct, c.Safety.MaxSocPct); err != nil {
		errs = append(errs, err)
	}
	if c.PeakShaving.SocHysteresisPct < 0 || c.SelfConsumption.SocHysteresisPct < 0 {
		errs = append(errs, invalid("soc hysteresis must be >= 0"))
	}
	if c.PeakShaving.ReleaseHysteresisW < 0 {
		errs = append(errs, invalid("peak_shaving.release_hysteresis_w must be >= 0"))
	}
	if c.Tariff.ForecastTrust < 0 || c.Tariff.ForecastTrust > 1 {
		errs = append(errs, invalid("tariff.forecast_trust must be within 0..1"))
	}
	if c.Tariff.CapacityKWh < 0 {
		errs = append(errs, invalid("tariff.capacity_kwh must be >= 0"))
	}
	if c.Balance.DeadbandW < 0 || c.Balance.MarginW < 0 {
		errs = append(errs, invalid("balance deadband and margin must be >= 0"))
	}
	if c.PVSurplus.ExportReleaseW > c.PVSurplus.ExportThresholdW {
		errs = append(errs, invalid("pv_surplus.export_release_w must not exceed export_threshold_w"))
	}
	for i, b := range c.PVSurplus.Bands {
		if b.MaxChargeW < 0 || b.SocPct < 0 || b.SocPct > 100 {
			errs = append(errs, invalid("pv_surplus.bands[%d] out of range", i))
		}
	}
	if err := checkBand("reserve", c.Reserve.MinSocPct, c.Reserve.TargetSocPct); err != nil {
		errs = append(errs, err)
	}
	if c.Reserve.ChargeW < 0 {
		errs = append(errs, invalid("reserve.charge_w must be >= 0"))
	}
	if err := checkBand("peak_refill", c.PeakRefill.StartSocPct, c.PeakRefill.MaxSocPct); err != nil {
		errs = append(errs, err)
	}
	if c.PeakRefill.WindowS <= 0 {
		errs = append(errs, invalid("peak_refill.window_s must be > 0"))
	}
	return errors.Join(errs...)
}

// useBatteryPower reports whether measured battery power may feed the balancing law.
func (c Config) useBatteryPower() bool {
	return c.UseBatteryPower == nil || *c.UseBatteryPower
}

// signLockHoldMs returns the hold duration used after a suppressed reversal.
func (c Config) signLockHoldMs() int64 {
	hold := c.SignLockHoldMs
	if c.PeakShaving.ReleaseDelayMs > hold {
		hold = c.PeakShaving.ReleaseDelayMs
	}
	if hold < 2000 {
		return 2000
	}
	if hold > 15000 {
		return 15000
	}
	return hold
}
