package config

import (
	"fmt"

	"github.com/NexoWatt/nexowatt-ems/core/dispatch/logging"
)

// LoggingConfig defines settings for decision-trace storage and rotation.
type LoggingConfig struct {
	// Backend selects the trace store type: "jsonl", "rotating" or "sqlite".
	Backend string `json:"backend"`
	// Path is the file location of the trace store.
	Path string `json:"path"`
	// MaxSizeMB triggers rotation when the file exceeds this size in megabytes.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
	// Disabled turns trace persistence off.
	Disabled bool `json:"disabled"`
}

// SetDefaults applies sane defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = logging.BackendJSONL
	}
	if c.Path == "" {
		switch c.Backend {
		case logging.BackendSQLite:
			c.Path = "dispatch_trace.db"
		default:
			c.Path = "dispatch_trace.jsonl"
		}
	}
	if c.Backend == logging.BackendRotating && c.MaxSizeMB == 0 {
		c.MaxSizeMB = 50
	}
}

// Validate checks mandatory fields.
func (c LoggingConfig) Validate() error {
	switch c.Backend {
	case logging.BackendJSONL, logging.BackendRotating, logging.BackendSQLite:
	default:
		return fmt.Errorf("logging: unknown backend %q", c.Backend)
	}
	if c.Path == "" {
		return fmt.Errorf("logging: path is required")
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return fmt.Errorf("logging: rotation settings must not be negative")
	}
	return nil
}

// Options converts the section into trace store options.
func (c LoggingConfig) Options() logging.Options {
	return logging.Options{
		Backend:    c.Backend,
		Path:       c.Path,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
	}
}
