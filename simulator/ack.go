package simulator

import (
	"math/rand"
	"sync"
	"time"
)

// AckPolicy decides whether the simulated device follows a command and
// acknowledges it.
type AckPolicy struct {
	Delay    time.Duration
	DropRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewAckPolicy returns a policy dropping commands with probability dropRate.
// The seed makes runs reproducible.
func NewAckPolicy(delay time.Duration, dropRate float64, seed int64) *AckPolicy {
	return &AckPolicy{Delay: delay, DropRate: dropRate, rng: rand.New(rand.NewSource(seed))}
}

// Accept reports whether the next command is followed.
func (a *AckPolicy) Accept() bool {
	if a == nil || a.DropRate <= 0 {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rng == nil {
		a.rng = rand.New(rand.NewSource(1))
	}
	return a.rng.Float64() >= a.DropRate
}
