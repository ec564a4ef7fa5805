// Package infra holds the adapters of the dispatcher: the MQTT transport and
// telemetry ingest, metrics sinks and the Sentry monitor. They implement the
// contracts of the core packages and never the other way round.
package infra
