// Package events defines the dispatcher events emitted on the event bus.
//
// Available event types:
//   - CycleEvent: outcome of one control cycle
//   - SignLockEvent: the stabilizer blocked a charge/discharge reversal
//   - WriteEvent: result of a setpoint write
package events
