package events

import (
	"time"

	"github.com/NexoWatt/nexowatt-ems/core/model"
)

// CycleEvent is published after every dispatcher cycle.
type CycleEvent struct {
	UnitID  string
	Source  model.Source
	Reason  string
	Watts   int
	Applied bool
	Time    time.Time
}

// SignLockEvent is published when a sign change is suppressed and a hold
// window starts.
type SignLockEvent struct {
	UnitID   string
	FromW    int
	RequestW float64
	UntilMs  int64
	Reason   string
	Time     time.Time
}

// WriteEvent is published for every setpoint write attempt.
type WriteEvent struct {
	UnitID    string
	CommandID string
	Watts     int
	Applied   bool
	Latency   time.Duration
	Err       error
	Time      time.Time
}
