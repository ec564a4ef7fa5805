package simulator

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NexoWatt/nexowatt-ems/core/dispatch"
	"github.com/NexoWatt/nexowatt-ems/core/factory"
)

// DefaultStart is the simulated wall clock of a scenario without start.
var DefaultStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// BatteryConfig describes the simulated storage unit.
type BatteryConfig struct {
	// Profile presets capacity and limits: small, medium or large.
	Profile       string  `yaml:"profile"`
	CapacityKWh   float64 `yaml:"capacity_kwh"`
	InitialSoCPct float64 `yaml:"initial_soc_pct"`
	MaxChargeW    float64 `yaml:"max_charge_w"`
	MaxDischargeW float64 `yaml:"max_discharge_w"`
	Efficiency    float64 `yaml:"efficiency"`
}

// CapStep publishes grid caps from AtS on.
type CapStep struct {
	AtS                float64  `yaml:"at_s"`
	ImportLimitW       *float64 `yaml:"import_limit_w"`
	PeakShavingLimitW  *float64 `yaml:"peak_shaving_limit_w"`
	RequiredReductionW *float64 `yaml:"required_reduction_w"`
	ImportLimitSource  string   `yaml:"import_limit_source"`
}

// TariffStep publishes the tariff state from AtS on.
type TariffStep struct {
	AtS               float64 `yaml:"at_s"`
	Active            bool    `yaml:"active"`
	DesiredW          float64 `yaml:"desired_w"`
	State             string  `yaml:"state"`
	GridChargeAllowed *bool   `yaml:"grid_charge_allowed"`
	DischargeAllowed  *bool   `yaml:"discharge_allowed"`
}

// AckConfig configures dropped commands.
type AckConfig struct {
	DropRate float64 `yaml:"drop_rate"`
}

// Scenario is one closed-loop simulation run.
type Scenario struct {
	Name      string        `yaml:"name"`
	UnitID    string        `yaml:"unit_id"`
	Start     time.Time     `yaml:"start"`
	StepMs    int64         `yaml:"step_ms"`
	DurationS float64       `yaml:"duration_s"`
	Seed      int64         `yaml:"seed"`
	Battery   BatteryConfig `yaml:"battery"`
	Site      Site          `yaml:"site"`
	Caps      []CapStep     `yaml:"caps"`
	Tariff    []TariffStep  `yaml:"tariff"`
	Assist    Profile       `yaml:"assist"`

	// ForecastKWh is the remaining PV forecast; nil leaves it unpublished.
	ForecastKWh *float64  `yaml:"forecast_kwh"`
	Ack         AckConfig `yaml:"ack"`

	// Dispatch overrides dispatcher settings using their configuration keys.
	Dispatch map[string]any `yaml:"dispatch"`
}

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario decodes a YAML scenario and applies defaults.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	sc.SetDefaults()
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (b *BatteryConfig) applyProfile() error {
	var capKWh, chargeW, dischargeW float64
	switch b.Profile {
	case "":
		return nil
	case "small":
		capKWh, chargeW, dischargeW = 5, 2500, 2500
	case "medium":
		capKWh, chargeW, dischargeW = 10, 5000, 5000
	case "large":
		capKWh, chargeW, dischargeW = 20, 10000, 10000
	default:
		return fmt.Errorf("unknown battery profile %q", b.Profile)
	}
	if b.CapacityKWh == 0 {
		b.CapacityKWh = capKWh
	}
	if b.MaxChargeW == 0 {
		b.MaxChargeW = chargeW
	}
	if b.MaxDischargeW == 0 {
		b.MaxDischargeW = dischargeW
	}
	return nil
}

// SetDefaults fills zero values.
func (sc *Scenario) SetDefaults() {
	if sc.Name == "" {
		sc.Name = "scenario"
	}
	if sc.UnitID == "" {
		sc.UnitID = "ess"
	}
	if sc.Start.IsZero() {
		sc.Start = DefaultStart
	}
	if sc.StepMs == 0 {
		sc.StepMs = dispatch.DefaultInterval.Milliseconds()
	}
	if sc.DurationS == 0 {
		sc.DurationS = 600
	}
	if sc.Seed == 0 {
		sc.Seed = 1
	}
	if sc.Battery.Profile == "" && sc.Battery.CapacityKWh == 0 {
		sc.Battery.Profile = "medium"
	}
	if sc.Battery.InitialSoCPct == 0 {
		sc.Battery.InitialSoCPct = 50
	}
	sc.Site.Load = sc.Site.Load.sorted()
	sc.Site.PV = sc.Site.PV.sorted()
	sc.Assist = sc.Assist.sorted()
	sort.SliceStable(sc.Caps, func(i, j int) bool { return sc.Caps[i].AtS < sc.Caps[j].AtS })
	sort.SliceStable(sc.Tariff, func(i, j int) bool { return sc.Tariff[i].AtS < sc.Tariff[j].AtS })
}

// Validate resolves the battery profile, checks the scenario and returns
// all problems found.
func (sc *Scenario) Validate() error {
	var errs []error
	if err := sc.Battery.applyProfile(); err != nil {
		errs = append(errs, err)
	}
	if sc.StepMs < 100 {
		errs = append(errs, fmt.Errorf("step_ms must be at least 100, got %d", sc.StepMs))
	}
	if sc.DurationS <= 0 {
		errs = append(errs, errors.New("duration_s must be > 0"))
	}
	b := sc.Battery
	if b.CapacityKWh <= 0 {
		errs = append(errs, errors.New("battery.capacity_kwh must be > 0"))
	}
	if b.MaxChargeW <= 0 || b.MaxDischargeW <= 0 {
		errs = append(errs, errors.New("battery limits must be > 0"))
	}
	if b.InitialSoCPct < 0 || b.InitialSoCPct > 100 {
		errs = append(errs, fmt.Errorf("battery.initial_soc_pct out of range: %v", b.InitialSoCPct))
	}
	if b.Efficiency < 0 || b.Efficiency > 1 {
		errs = append(errs, fmt.Errorf("battery.efficiency out of range: %v", b.Efficiency))
	}
	if sc.Ack.DropRate < 0 || sc.Ack.DropRate >= 1 {
		errs = append(errs, fmt.Errorf("ack.drop_rate must be in [0,1), got %v", sc.Ack.DropRate))
	}
	if _, err := sc.DispatchConfig(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Steps returns the number of cycles of the run.
func (sc *Scenario) Steps() int {
	return int(sc.DurationS * 1000 / float64(sc.StepMs))
}

// Step returns the cycle interval.
func (sc *Scenario) Step() time.Duration {
	return time.Duration(sc.StepMs) * time.Millisecond
}

// DispatchConfig returns the dispatcher configuration of the run: defaults,
// then the battery limits and capacity, then the scenario overrides.
func (sc *Scenario) DispatchConfig() (dispatch.Config, error) {
	cfg := dispatch.DefaultConfig()
	cfg.PVSurplus.Bands = nil
	cfg.MaxChargeW = sc.Battery.MaxChargeW
	cfg.MaxDischargeW = sc.Battery.MaxDischargeW
	cfg.Tariff.CapacityKWh = sc.Battery.CapacityKWh
	if len(sc.Dispatch) > 0 {
		if err := factory.Decode(sc.Dispatch, &cfg); err != nil {
			return cfg, fmt.Errorf("dispatch: %w", err)
		}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("dispatch: %w", err)
	}
	return cfg, nil
}

func capAt(steps []CapStep, s float64) (CapStep, bool) {
	var cur CapStep
	ok := false
	for _, st := range steps {
		if st.AtS > s {
			break
		}
		cur, ok = st, true
	}
	return cur, ok
}

func tariffAt(steps []TariffStep, s float64) (TariffStep, bool) {
	var cur TariffStep
	ok := false
	for _, st := range steps {
		if st.AtS > s {
			break
		}
		cur, ok = st, true
	}
	return cur, ok
}
