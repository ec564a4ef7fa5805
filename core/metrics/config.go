package metrics

import "github.com/NexoWatt/nexowatt-ems/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PromAddr is the listen address of the HTTP server exposing /metrics.
	PromAddr string `json:"prom_addr"`
}
