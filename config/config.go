package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/NexoWatt/nexowatt-ems/core/datapoint"
	"github.com/NexoWatt/nexowatt-ems/core/dispatch"
	"github.com/NexoWatt/nexowatt-ems/core/metrics"
	"github.com/NexoWatt/nexowatt-ems/infra/mqtt"
)

// DefaultUnitID names the single unit used when no fleet is configured.
const DefaultUnitID = "ess"

// APIConfig protects the HTTP API. An empty token disables authentication.
type APIConfig struct {
	Token string `json:"token"`
}

// LogConfig selects the application log level.
type LogConfig struct {
	Level string `json:"level"`
}

type Config struct {
	MQTT            mqtt.Config       `json:"mqtt"`
	Dispatch        dispatch.Config   `json:"dispatch"`
	Units           []UnitConfig      `json:"units"`
	CycleIntervalMS int               `json:"cycle_interval_ms"`
	Datapoints      datapoint.Options `json:"datapoints"`
	Metrics         metrics.Config    `json:"metrics"`
	Logging         LoggingConfig     `json:"logging"`
	Sentry          SentryConfig      `json:"sentry"`
	Telemetry       TelemetryConfig   `json:"telemetry"`
	API             APIConfig         `json:"api"`
	Log             LogConfig         `json:"log"`
}

// Default returns a configuration with every section defaulted and a single
// storage unit.
func Default() Config {
	cfg := Config{Dispatch: dispatch.DefaultConfig()}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero values of every section.
func (c *Config) SetDefaults() {
	c.Dispatch.SetDefaults()
	c.MQTT.SetDefaults()
	c.Logging.SetDefaults()
	c.Datapoints.SetDefaults()
	if len(c.Units) == 0 {
		c.Units = []UnitConfig{{ID: DefaultUnitID}}
	}
	if c.CycleIntervalMS == 0 {
		c.CycleIntervalMS = int(dispatch.DefaultInterval / time.Millisecond)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks every section and returns all problems found.
func (c Config) Validate() error {
	var errs []error
	if err := c.Dispatch.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("dispatch: %w", err))
	}
	if err := validateUnits(c.Units, c.Dispatch); err != nil {
		errs = append(errs, err)
	}
	if c.CycleIntervalMS < 100 {
		errs = append(errs, fmt.Errorf("cycle_interval_ms must be at least 100, got %d", c.CycleIntervalMS))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log: unknown level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// CycleInterval returns the manager tick interval.
func (c Config) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalMS) * time.Millisecond
}

// Load reads the configuration file at path, applies K_ environment
// overrides (K_DISPATCH__MAX_CHARGE_W=4000) and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Policies are enabled unless switched off explicitly, so decoding starts
	// from the dispatcher defaults. Bands are only defaulted when absent.
	cfg := Config{Dispatch: dispatch.DefaultConfig()}
	cfg.Dispatch.PVSurplus.Bands = nil
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}
