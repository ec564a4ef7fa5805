package dispatch

// DebouncedBool adopts false immediately but true only after the raw input
// stayed true for a hold duration.
type DebouncedBool struct {
	Value       bool  `json:"value"`
	SinceTrueMs int64 `json:"since_true_ms"`
	pending     bool
}

// Update feeds one raw observation and returns the debounced value.
func (d *DebouncedBool) Update(raw bool, nowMs, holdMs int64) bool {
	if !raw {
		d.Value = false
		d.pending = false
		d.SinceTrueMs = 0
		return false
	}
	if !d.pending {
		d.pending = true
		d.SinceTrueMs = nowMs
	}
	if !d.Value && nowMs-d.SinceTrueMs >= holdMs {
		d.Value = true
	}
	return d.Value
}

// newAllowed returns a DebouncedBool that starts permitted.
func newAllowed(nowMs int64) DebouncedBool {
	return DebouncedBool{Value: true, SinceTrueMs: nowMs, pending: true}
}
