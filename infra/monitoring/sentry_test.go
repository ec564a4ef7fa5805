package monitoring

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NexoWatt/nexowatt-ems/config"
	coremon "github.com/NexoWatt/nexowatt-ems/core/monitoring"
)

func TestNewSentryMonitorWithoutDSN(t *testing.T) {
	m, err := NewSentryMonitor(config.SentryConfig{})
	require.NoError(t, err)
	assert.IsType(t, coremon.NopMonitor{}, m)
}

func TestNewSentryMonitorInvalidDSN(t *testing.T) {
	_, err := NewSentryMonitor(config.SentryConfig{DSN: "::not a dsn"})
	assert.Error(t, err)
}

func TestSentryMonitorTagsEvents(t *testing.T) {
	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	m, err := newSentryMonitor(config.SentryConfig{DSN: "https://public@example.com/1", Site: "plant-a"},
		func(ev *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
			return nil
		})
	require.NoError(t, err)

	m.CaptureException(nil, nil)
	m.CaptureException(errors.New("unit ess2: cycle panic: boom"), map[string]string{"unit_id": "ess2", "module": "dispatch"})
	m.Flush(time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	tags := events[0].Tags
	assert.Equal(t, "ess2", tags["unit_id"])
	assert.Equal(t, "dispatch", tags["module"])
	assert.Equal(t, "plant-a", tags["site"])
	assert.Equal(t, "nexowatt-ems", tags["service"])
}
