package dispatch

import "github.com/NexoWatt/nexowatt-ems/core/model"

// Stage names of the stabilizer pipeline.
const (
	StageRequest  = "request"
	StageClamp    = "clamp"
	StageQuantize = "quantize"
	StageDeadband = "deadband"
	StageSignLock = "signlock"
	StageRamp     = "ramp"
	StageFinal    = "final"
)

// Stage is the setpoint after one pipeline step.
type Stage struct {
	Name  string  `json:"name"`
	Watts float64 `json:"watts"`
	Note  string  `json:"note,omitempty"`
}

// Trace records how a cycle's setpoint was derived. It is diagnostic only.
type Trace struct {
	Stages      []Stage      `json:"stages"`
	Source      model.Source `json:"source"`
	Reason      string       `json:"reason"`
	ZeroBandW   float64      `json:"zero_band_w"`
	SignLocked  bool         `json:"sign_locked"`
	LockUntilMs int64        `json:"lock_until_ms,omitempty"`
	HardBound   string       `json:"hard_bound,omitempty"`
}

func (t *Trace) add(name string, w float64, note string) {
	t.Stages = append(t.Stages, Stage{Name: name, Watts: w, Note: note})
}

// Stage returns the named stage.
func (t Trace) Stage(name string) (Stage, bool) {
	for _, s := range t.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// Fields flattens the trace for structured logging.
func (t Trace) Fields() map[string]any {
	f := map[string]any{
		"source":      t.Source.String(),
		"reason":      t.Reason,
		"zero_band_w": t.ZeroBandW,
		"sign_locked": t.SignLocked,
	}
	for _, s := range t.Stages {
		f[s.Name] = s.Watts
	}
	if t.HardBound != "" {
		f["hard_bound"] = t.HardBound
	}
	return f
}
