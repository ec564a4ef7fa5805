package dispatch

import "github.com/NexoWatt/nexowatt-ems/core/model"

// RollingWindow keeps samples no older than the horizon and a running sum.
type RollingWindow struct {
	horizonMs int64
	samples   []model.PowerSample
	sum       float64
}

// NewRollingWindow creates a window over horizonS seconds.
func NewRollingWindow(horizonS float64) *RollingWindow {
	return &RollingWindow{horizonMs: int64(horizonS * 1000)}
}

// Push appends a sample and purges old ones relative to its timestamp.
func (w *RollingWindow) Push(s model.PowerSample) {
	w.samples = append(w.samples, s)
	w.sum += s.Watts
	w.Purge(s.TimestampMs)
}

// Purge drops samples with timestampMs < nowMs - horizon.
func (w *RollingWindow) Purge(nowMs int64) {
	cutoff := nowMs - w.horizonMs
	i := 0
	for i < len(w.samples) && w.samples[i].TimestampMs < cutoff {
		w.sum -= w.samples[i].Watts
		i++
	}
	if i == 0 {
		return
	}
	w.samples = append(w.samples[:0], w.samples[i:]...)
	if len(w.samples) == 0 {
		w.sum = 0
	}
}

// SetHorizon changes the horizon and purges relative to nowMs.
func (w *RollingWindow) SetHorizon(horizonS float64, nowMs int64) {
	w.horizonMs = int64(horizonS * 1000)
	w.Purge(nowMs)
}

// Mean returns the average of the retained samples; ok is false when empty.
func (w *RollingWindow) Mean() (float64, bool) {
	if len(w.samples) == 0 {
		return 0, false
	}
	return w.sum / float64(len(w.samples)), true
}

// Len returns the number of retained samples.
func (w *RollingWindow) Len() int { return len(w.samples) }

// Sum returns the running sum.
func (w *RollingWindow) Sum() float64 { return w.sum }

// filterHeadroom applies the one-sided update: decreases are adopted at once,
// increases only when they exceed deadbandW.
func filterHeadroom(prev *float64, next, deadbandW float64) float64 {
	if prev == nil || next <= *prev {
		return next
	}
	if next-*prev > deadbandW {
		return next
	}
	return *prev
}
