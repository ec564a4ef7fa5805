package simulator

import (
	"math"
	"sync"
	"time"
)

// Battery models a stationary storage unit with charge/discharge limits.
type Battery struct {
	CapacityKWh   float64 // usable capacity
	SoCPct        float64 // state of charge [0,100]
	MaxChargeW    float64
	MaxDischargeW float64

	// Efficiency applies to charging only; 0 means lossless.
	Efficiency float64
	mu         sync.Mutex
}

// SoC returns the current state of charge in percent.
func (b *Battery) SoC() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.SoCPct
}

// ApplyPower updates the SoC according to the requested power and duration.
// Positive power means discharge, negative means charging.
// It returns the actual power applied after enforcing limits.
func (b *Battery) ApplyPower(watts float64, dt time.Duration) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	hours := dt.Hours()
	if hours <= 0 || b.CapacityKWh <= 0 {
		return 0
	}
	capWh := b.CapacityKWh * 1000
	eff := b.Efficiency
	if eff <= 0 || eff > 1 {
		eff = 1
	}

	actual := watts
	if watts > 0 { // discharge
		if watts > b.MaxDischargeW {
			actual = b.MaxDischargeW
		}
		maxEnergy := b.SoCPct / 100 * capWh
		needed := actual * hours
		if needed > maxEnergy {
			needed = maxEnergy
			actual = needed / hours
		}
		b.SoCPct -= needed / capWh * 100
	} else if watts < 0 { // charge
		p := math.Abs(watts)
		if p > b.MaxChargeW {
			p = b.MaxChargeW
		}
		avail := (100 - b.SoCPct) / 100 * capWh
		stored := p * hours * eff
		if stored > avail {
			stored = avail
			p = stored / eff / hours
		}
		b.SoCPct += stored / capWh * 100
		actual = -p
	}

	if b.SoCPct < 0 {
		b.SoCPct = 0
	}
	if b.SoCPct > 100 {
		b.SoCPct = 100
	}
	return actual
}
