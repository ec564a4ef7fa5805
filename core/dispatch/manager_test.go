package dispatch

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

	"github.com/NexoWatt/nexowatt-ems/core/datapoint"
	"github.com/NexoWatt/nexowatt-ems/core/dispatch/logging"
	"github.com/NexoWatt/nexowatt-ems/core/events"
	"github.com/NexoWatt/nexowatt-ems/core/metrics"
	"github.com/NexoWatt/nexowatt-ems/core/model"
	coremon "github.com/NexoWatt/nexowatt-ems/core/monitoring"
	"github.com/NexoWatt/nexowatt-ems/infra/logger"
	"github.com/NexoWatt/nexowatt-ems/internal/eventbus"
)

type recordMonitor struct {
	mu   sync.Mutex
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) Recover()            {}
func (r *recordMonitor) Flush(time.Duration) {}

type memStore struct {
	mu   sync.Mutex
	recs []logging.LogRecord
}

func (m *memStore) Append(_ context.Context, r logging.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

func (m *memStore) Query(context.Context, logging.LogQuery) ([]logging.LogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logging.LogRecord(nil), m.recs...), nil
}

func (m *memStore) Close() error { return nil }

type errorSink struct {
	metrics.NopSink
	mu     sync.Mutex
	cycles int
	errs   []metrics.CycleErrorEvent
}

func (s *errorSink) RecordCycle(metrics.CycleRecord) error {
	s.mu.Lock()
	s.cycles++
	s.mu.Unlock()
	return nil
}

func (s *errorSink) RecordCycleError(ev metrics.CycleErrorEvent) error {
	s.mu.Lock()
	s.errs = append(s.errs, ev)
	s.mu.Unlock()
	return nil
}

type idWriter struct{ SetpointWriterFunc }

func (idWriter) LastCommandID() string { return "cmd-1" }

func newFleet(t *testing.T, store *datapoint.Store) []*Dispatcher {
	t.Helper()
	ok := idWriter{func(context.Context, int) (bool, error) { return true, nil }}
	panics := SetpointWriterFunc(func(context.Context, int) (bool, error) { panic("device driver crashed") })
	fails := SetpointWriterFunc(func(context.Context, int) (bool, error) { return false, errors.New("broker down") })
	var units []*Dispatcher
	for id, w := range map[string]SetpointWriter{"ess1": ok, "ess2": panics, "ess3": fails} {
		d, err := NewDispatcher(id, DefaultConfig(), store.View(id), w, logger.NopLogger{})
		require.NoError(t, err)
		units = append(units, d)
	}
	return units
}

func TestManagerContainsFailures(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	reg := prometheus.NewRegistry()
	MustRegisterMetrics(reg)

	mon := &recordMonitor{}
	coremon.Init(mon)
	t.Cleanup(func() { coremon.Init(coremon.NopMonitor{}) })

	now := time.UnixMilli(t0)
	store := datapoint.NewStore(datapoint.Options{})
	store.SetNumber(model.KeyGridPowerW, 1000, t0)
	store.SetNumber(model.KeySoCPct, 50, t0)

	bus := eventbus.New()
	sub := bus.Subscribe()
	sink := &errorSink{}
	mgr, err := NewManager(newFleet(t, store), time.Second, sink, bus, logger.NopLogger{})
	require.NoError(t, err)
	traces := &memStore{}
	mgr.SetLogStore(traces)

	results := mgr.Tick(context.Background(), now)
	require.Len(t, results, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(cycleErrors.WithLabelValues("ess2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(writeFailures.WithLabelValues("ess3")))
	assert.Equal(t, 950.0, testutil.ToFloat64(setpointWatts.WithLabelValues("ess1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cyclesTotal.WithLabelValues("ess1", "self_consumption")))

	mon.mu.Lock()
	require.Error(t, mon.err)
	assert.Equal(t, "ess2", mon.tags["unit_id"])
	assert.Equal(t, "dispatch", mon.tags["module"])
	mon.mu.Unlock()

	require.Len(t, sink.errs, 1)
	assert.True(t, sink.errs[0].Panic)
	assert.Equal(t, 2, sink.cycles)
	assert.Len(t, traces.recs, 2)

	byUnit := map[string]UnitStatus{}
	for _, st := range mgr.Status() {
		byUnit[st.UnitID] = st
	}
	assert.Equal(t, uint64(1), byUnit["ess2"].Errors)
	assert.Contains(t, byUnit["ess2"].LastError, "device driver crashed")
	require.NotNil(t, byUnit["ess1"].Last)
	assert.Equal(t, 950, byUnit["ess1"].Last.Watts)
	assert.True(t, byUnit["ess1"].Last.Applied)
	require.NotNil(t, byUnit["ess3"].Last)
	assert.False(t, byUnit["ess3"].Last.Applied)

	var cyclesSeen, writes int
	var cmdID string
	for i := 0; i < 4; i++ {
		select {
		case ev := <-sub:
			switch e := ev.(type) {
			case events.CycleEvent:
				cyclesSeen++
			case events.WriteEvent:
				writes++
				if e.UnitID == "ess1" {
					cmdID = e.CommandID
				}
				if e.UnitID == "ess3" {
					assert.Error(t, e.Err)
				}
			}
		case <-time.After(time.Second):
			t.Fatal("missing event")
		}
	}
	assert.Equal(t, 2, cyclesSeen)
	assert.Equal(t, 2, writes)
	assert.Equal(t, "cmd-1", cmdID)
	require.NoError(t, mgr.Close())
}

func TestManagerPublishesSignLock(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })

	store := datapoint.NewStore(datapoint.Options{})
	w := SetpointWriterFunc(func(context.Context, int) (bool, error) { return true, nil })
	d, err := NewDispatcher("ess1", DefaultConfig(), store, w, logger.NopLogger{})
	require.NoError(t, err)
	bus := eventbus.New()
	sub := bus.Subscribe()
	mgr, err := NewManager([]*Dispatcher{d}, time.Second, nil, bus, logger.NopLogger{})
	require.NoError(t, err)

	store.SetNumber(model.KeySoCPct, 50, t0)
	store.SetNumber(model.KeyGridPowerW, 550, t0)
	_, err = mgr.RunCycle(context.Background(), d, time.UnixMilli(t0))
	require.NoError(t, err)
	store.SetNumber(model.KeyGridPowerW, -500, t0+2000)
	res, err := mgr.RunCycle(context.Background(), d, time.UnixMilli(t0+2000))
	require.NoError(t, err)
	require.True(t, res.SignLockEngaged)
	assert.Equal(t, 1.0, testutil.ToFloat64(signLocksTotal.WithLabelValues("ess1")))

	var lock *events.SignLockEvent
	for i := 0; i < 5 && lock == nil; i++ {
		if ev, ok := (<-sub).(events.SignLockEvent); ok {
			lock = &ev
		}
	}
	require.NotNil(t, lock)
	assert.Equal(t, 500, lock.FromW)
	assert.Equal(t, -500.0, lock.RequestW)
	assert.Equal(t, t0+7000, lock.UntilMs)
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	store := datapoint.NewStore(datapoint.Options{})
	w := SetpointWriterFunc(func(context.Context, int) (bool, error) { return true, nil })
	d, err := NewDispatcher("ess1", DefaultConfig(), store, w, logger.NopLogger{})
	require.NoError(t, err)
	mgr, err := NewManager([]*Dispatcher{d}, 5*time.Millisecond, nil, nil, logger.NopLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
	st := mgr.Status()
	require.Len(t, st, 1)
	assert.False(t, st[0].LastCycle.IsZero())
	require.NotNil(t, st[0].Last)
	assert.True(t, st[0].Last.Gated, "no measurements yet")
}

func TestNewManagerRejectsDuplicates(t *testing.T) {
	d := newTestDispatcher(t, nil)
	_, err := NewManager([]*Dispatcher{d, d}, 0, nil, nil, logger.NopLogger{})
	assert.Error(t, err)
	_, err = NewManager(nil, 0, nil, nil, logger.NopLogger{})
	assert.Error(t, err)

	mgr, err := NewManager([]*Dispatcher{d}, 0, nil, nil, logger.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, mgr.Interval())
}

func TestToLogRecord(t *testing.T) {
	d := newTestDispatcher(t, nil)
	res := d.Step(protectiveInputs(5800), t0)
	rec := ToLogRecord(res, time.UnixMilli(t0))
	assert.Equal(t, "ess1", rec.UnitID)
	assert.Equal(t, model.SourceProtectiveDischarge, rec.Winner)
	assert.Equal(t, 800, rec.FinalW)
	assert.Equal(t, 800.0, rec.RequestedW)
	assert.Len(t, rec.Stages, 7)
}
