package config

import "strings"

// TelemetryConfig holds configuration for the MQTT datapoint ingest.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	TopicPrefix string `json:"topic_prefix"`
}

// Prefix returns the topic prefix without trailing slash.
func (c TelemetryConfig) Prefix() string {
	p := strings.TrimSuffix(c.TopicPrefix, "/")
	if p == "" {
		return "ems"
	}
	return p
}
