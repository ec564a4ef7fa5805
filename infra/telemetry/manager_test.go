package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NexoWatt/nexowatt-ems/config"
	"github.com/NexoWatt/nexowatt-ems/core/datapoint"
	"github.com/NexoWatt/nexowatt-ems/core/model"
	coremqtt "github.com/NexoWatt/nexowatt-ems/core/mqtt"
)

type fakeSubscriber struct {
	mu      sync.Mutex
	topic   string
	handler coremqtt.MessageHandler
	err     error
}

func (f *fakeSubscriber) Subscribe(topic string, h coremqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topic = topic
	f.handler = h
	return f.err
}

func (f *fakeSubscriber) subscribed() (string, coremqtt.MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topic, f.handler
}

func newTestManager(t *testing.T) (*Manager, *fakeSubscriber, *datapoint.Store) {
	t.Helper()
	sub := &fakeSubscriber{}
	store := datapoint.NewStore(datapoint.Options{})
	m, err := NewManager(config.TelemetryConfig{TopicPrefix: "ems"}, sub, store, prometheus.NewRegistry())
	require.NoError(t, err)
	m.now = func() time.Time { return time.UnixMilli(5000) }
	return m, sub, store
}

func TestProcessEnvelope(t *testing.T) {
	m, _, store := newTestManager(t)
	require.NoError(t, m.process("ems/grid.power_w", []byte(`{"value":1250.5,"ts":4000}`)))
	v, ok := store.Get(model.KeyGridPowerW)
	require.True(t, ok)
	assert.Equal(t, 1250.5, v.Number)
	assert.Equal(t, int64(4000), v.TimestampMs)
}

func TestProcessUnitScopedAndBareValues(t *testing.T) {
	m, _, store := newTestManager(t)
	require.NoError(t, m.process("ems/ess1/battery.soc_pct", []byte(`64`)))
	require.NoError(t, m.process("ems/control.enabled", []byte(`{"value":true}`)))
	require.NoError(t, m.process("ems/tariff.state", []byte(`"cheap"`)))

	soc, ok := store.View("ess1").GetFreshNumber(model.KeySoCPct, 1000, 5000)
	require.True(t, ok)
	assert.Equal(t, 64.0, soc)
	en, ok := store.GetFreshBool(model.KeyControlEnabled, 1000, 5000)
	require.True(t, ok)
	assert.True(t, en)
	v, _ := store.Get(model.KeyTariffState)
	assert.Equal(t, "cheap", v.Text)
}

func TestProcessRejects(t *testing.T) {
	m, _, _ := newTestManager(t)
	for _, tc := range []struct {
		topic, payload string
	}{
		{"other/grid.power_w", `1`},
		{"ems/", `1`},
		{"ems/a/b/c", `1`},
		{"ems//x", `1`},
		{"ems/grid.power_w", `{not json`},
		{"ems/grid.power_w", `{"ts":1}`},
		{"ems/grid.power_w", `[1,2]`},
	} {
		assert.Error(t, m.process(tc.topic, []byte(tc.payload)), "%s %s", tc.topic, tc.payload)
	}
}

func TestStartSubscribesAndCounts(t *testing.T) {
	m, sub, store := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	require.Eventually(t, func() bool { _, h := sub.subscribed(); return h != nil }, time.Second, time.Millisecond)
	topic, handler := sub.subscribed()
	assert.Equal(t, "ems/#", topic)

	handler("ems/grid.power_w", []byte(`{"value":100,"ts":4999}`))
	handler("ems/grid.power_w", []byte(`oops`))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.received))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected))
	assert.Equal(t, 1, store.Len())

	cancel()
	require.NoError(t, <-done)
}

func TestStartSubscribeError(t *testing.T) {
	sub := &fakeSubscriber{err: errors.New("not connected")}
	m, err := NewManager(config.TelemetryConfig{}, sub, datapoint.NewStore(datapoint.Options{}), prometheus.NewRegistry())
	require.NoError(t, err)
	assert.Error(t, m.Start(context.Background()))
}
