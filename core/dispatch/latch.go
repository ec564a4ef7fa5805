package dispatch

import "math"

// Direction selects which side of the band enables a latch.
type Direction int

const (
	// EnableAbove turns on at or above the high threshold and off at or
	// below the low threshold. Used for discharge permissions.
	EnableAbove Direction = iota
	// EnableBelow turns on at or below the low threshold and off at or
	// above the high threshold. Used for charge and refill permissions.
	EnableBelow
)

// HysteresisLatch is a boolean that only changes when a value crosses one
// of two distinct thresholds.
type HysteresisLatch struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

// Update applies the transition rule and returns the new state. NaN and
// infinite values leave the latch unchanged.
func (l *HysteresisLatch) Update(value, low, high float64, dir Direction) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return l.Active
	}
	switch dir {
	case EnableAbove:
		if value <= low {
			l.Active = false
		} else if value >= high {
			l.Active = true
		}
	case EnableBelow:
		if value <= low {
			l.Active = true
		} else if value >= high {
			l.Active = false
		}
	}
	return l.Active
}

// LatchSet keys latches by policy identifier.
type LatchSet map[string]*HysteresisLatch

// Evaluate updates the latch identified by id, creating it inactive on first
// use, and returns its state.
func (s LatchSet) Evaluate(id string, socPct, low, high float64, dir Direction) bool {
	l, ok := s[id]
	if !ok {
		l = &HysteresisLatch{ID: id}
		s[id] = l
	}
	return l.Update(socPct, low, high, dir)
}

// Active reports the current state of a latch without updating it.
func (s LatchSet) Active(id string) bool {
	if l, ok := s[id]; ok {
		return l.Active
	}
	return false
}

func (s LatchSet) clone() map[string]bool {
	out := make(map[string]bool, len(s))
	for id, l := range s {
		out[id] = l.Active
	}
	return out
}
