// Package metrics defines the contracts used to record dispatcher cycles.
// Sinks like PromSink and InfluxSink record per-cycle decisions and can be
// combined with NewMultiSink. The factory helpers return a MultiSink
// automatically when multiple sinks are configured.
package metrics
