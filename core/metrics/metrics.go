package metrics

import (
	"time"

	"github.com/NexoWatt/nexowatt-ems/core/model"
)

// CycleRecord is the outcome of one dispatcher cycle for one unit.
type CycleRecord struct {
	UnitID     string
	Source     model.Source
	Reason     string
	RequestedW float64
	FinalW     int
	SoCPct     float64
	GridW      float64
	Applied    bool
	SignLocked bool
	Gated      bool
	Duration   time.Duration
	Time       time.Time
}

// MetricsSink records dispatcher cycles for observability purposes.
type MetricsSink interface {
	RecordCycle(rec CycleRecord) error
}

// SignLockEvent is emitted when the stabilizer blocks a sign change.
type SignLockEvent struct {
	UnitID   string
	FromW    int
	RequestW float64
	UntilMs  int64
	Reason   string
	Time     time.Time
}

// SignLockRecorder records sign-lock engagements.
type SignLockRecorder interface {
	RecordSignLock(ev SignLockEvent) error
}

// WriteEvent captures the outcome of a setpoint write.
type WriteEvent struct {
	UnitID    string
	CommandID string
	Watts     int
	Applied   bool
	Latency   time.Duration
	Error     string
	Time      time.Time
}

// WriteRecorder records setpoint writes.
type WriteRecorder interface {
	RecordWrite(ev WriteEvent) error
}

// CycleErrorEvent records a cycle that failed or panicked.
type CycleErrorEvent struct {
	UnitID string
	Error  string
	Panic  bool
	Time   time.Time
}

// CycleErrorRecorder records failed cycles.
type CycleErrorRecorder interface {
	RecordCycleError(ev CycleErrorEvent) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordCycle(CycleRecord) error          { return nil }
func (NopSink) RecordSignLock(SignLockEvent) error     { return nil }
func (NopSink) RecordWrite(WriteEvent) error           { return nil }
func (NopSink) RecordCycleError(CycleErrorEvent) error { return nil }
