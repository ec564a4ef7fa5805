package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/NexoWatt/nexowatt-ems/core/dispatch/logging"
	"github.com/NexoWatt/nexowatt-ems/core/events"
	"github.com/NexoWatt/nexowatt-ems/core/logger"
	"github.com/NexoWatt/nexowatt-ems/core/metrics"
	"github.com/NexoWatt/nexowatt-ems/core/monitoring"
	"github.com/NexoWatt/nexowatt-ems/internal/eventbus"
)

// DefaultInterval is the cycle period used when none is configured.
const DefaultInterval = 2 * time.Second

// CommandIDer is implemented by setpoint writers that tag each write with a
// command identifier.
type CommandIDer interface {
	LastCommandID() string
}

// UnitStatus is the last known status of one unit.
type UnitStatus struct {
	UnitID    string        `json:"unit_id"`
	LastCycle time.Time     `json:"last_cycle"`
	Last      *Result       `json:"last,omitempty"`
	State     StateSnapshot `json:"state"`
	Errors    uint64        `json:"errors"`
	LastError string        `json:"last_error,omitempty"`
}

// Manager runs a fleet of dispatchers on a fixed interval. A failing unit
// never stops the others.
type Manager struct {
	units    []*Dispatcher
	interval time.Duration
	logger   logger.Logger
	metrics  metrics.MetricsSink
	bus      eventbus.EventBus
	store    logging.LogStore

	tickMu sync.Mutex
	mu     sync.Mutex
	status map[string]*UnitStatus
}

// NewManager creates a manager for units. interval defaults to
// DefaultInterval; sink and bus are optional.
func NewManager(units []*Dispatcher, interval time.Duration, sink metrics.MetricsSink, bus eventbus.EventBus, log logger.Logger) (*Manager, error) {
	if len(units) == 0 || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewManager")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	status := make(map[string]*UnitStatus, len(units))
	for _, d := range units {
		if d == nil {
			return nil, fmt.Errorf("dispatch: nil dispatcher")
		}
		if _, dup := status[d.UnitID()]; dup {
			return nil, fmt.Errorf("dispatch: duplicate unit %q", d.UnitID())
		}
		status[d.UnitID()] = &UnitStatus{UnitID: d.UnitID(), State: d.State()}
	}
	return &Manager{
		units:    units,
		interval: interval,
		logger:   log,
		metrics:  sink,
		bus:      bus,
		status:   status,
	}, nil
}

// SetLogStore configures the store used to persist decision traces.
func (m *Manager) SetLogStore(store logging.LogStore) {
	m.mu.Lock()
	m.store = store
	m.mu.Unlock()
}

// Interval returns the cycle period.
func (m *Manager) Interval() time.Duration { return m.interval }

// Units returns the managed dispatchers.
func (m *Manager) Units() []*Dispatcher { return m.units }

// Run ticks every interval until the context is canceled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.Infof("dispatch manager started with %d units every %s", len(m.units), m.interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Infof("dispatch manager stopped")
			return
		case now := <-ticker.C:
			m.Tick(ctx, now)
		}
	}
}

// Tick runs one cycle of every unit sequentially and returns the results of
// the units that completed.
func (m *Manager) Tick(ctx context.Context, now time.Time) []Result {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()
	out := make([]Result, 0, len(m.units))
	for _, d := range m.units {
		if ctx.Err() != nil {
			break
		}
		res, err := m.RunCycle(ctx, d, now)
		if err != nil {
			continue
		}
		out = append(out, res)
	}
	return out
}

// RunCycle runs one cycle of d, recording metrics, the trace and events. A
// panic inside the cycle is recovered and returned as an error; the setpoint
// written last stays in effect.
func (m *Manager) RunCycle(ctx context.Context, d *Dispatcher, now time.Time) (res Result, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit %s: cycle panic: %v", d.UnitID(), r)
			m.logger.Errorf("%v\n%s", err, debug.Stack())
			m.cycleFailed(d, now, err, true)
		}
	}()

	res = d.Cycle(ctx, now)
	dur := time.Since(start)

	unit := d.UnitID()
	setpointWatts.WithLabelValues(unit).Set(float64(res.Watts))
	cyclesTotal.WithLabelValues(unit, res.Source.String()).Inc()
	cycleDuration.WithLabelValues(unit).Observe(dur.Seconds())
	if res.SignLockEngaged {
		signLocksTotal.WithLabelValues(unit).Inc()
	}
	if res.WriteErr != nil {
		writeFailures.WithLabelValues(unit).Inc()
	}

	m.record(d, res, dur, now)
	m.publish(d, res, now)
	m.persist(ctx, res, now)

	m.mu.Lock()
	st := m.status[unit]
	st.LastCycle = now
	r := res
	st.Last = &r
	st.State = d.State()
	m.mu.Unlock()
	return res, nil
}

func (m *Manager) cycleFailed(d *Dispatcher, now time.Time, err error, panicked bool) {
	unit := d.UnitID()
	cycleErrors.WithLabelValues(unit).Inc()
	monitoring.CaptureException(err, map[string]string{"unit_id": unit, "module": "dispatch"})
	if rec, ok := m.metrics.(metrics.CycleErrorRecorder); ok {
		if rerr := rec.RecordCycleError(metrics.CycleErrorEvent{UnitID: unit, Error: err.Error(), Panic: panicked, Time: now}); rerr != nil {
			m.logger.Errorf("cycle error metrics error: %v", rerr)
		}
	}
	m.mu.Lock()
	st := m.status[unit]
	st.Errors++
	st.LastError = err.Error()
	m.mu.Unlock()
}

func (m *Manager) record(d *Dispatcher, res Result, dur time.Duration, now time.Time) {
	rec := metrics.CycleRecord{
		UnitID:     res.UnitID,
		Source:     res.Source,
		Reason:     res.Reason,
		RequestedW: res.Decision.TargetWatts,
		FinalW:     res.Watts,
		SoCPct:     res.SoCPct,
		GridW:      res.GridW,
		Applied:    res.Applied,
		SignLocked: res.Trace.SignLocked,
		Gated:      res.Gated,
		Duration:   dur,
		Time:       now,
	}
	if err := m.metrics.RecordCycle(rec); err != nil {
		m.logger.Errorf("metrics error: %v", err)
	}
	if res.SignLockEngaged {
		if sr, ok := m.metrics.(metrics.SignLockRecorder); ok {
			st := d.State()
			ev := metrics.SignLockEvent{
				UnitID:   res.UnitID,
				FromW:    res.PrevWatts,
				RequestW: res.Decision.TargetWatts,
				UntilMs:  st.SignLockUntilMs,
				Reason:   st.SignLockReason,
				Time:     now,
			}
			if err := sr.RecordSignLock(ev); err != nil {
				m.logger.Errorf("sign-lock metrics error: %v", err)
			}
		}
	}
}

func (m *Manager) publish(d *Dispatcher, res Result, now time.Time) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.CycleEvent{
		UnitID:  res.UnitID,
		Source:  res.Source,
		Reason:  res.Reason,
		Watts:   res.Watts,
		Applied: res.Applied,
		Time:    now,
	})
	var cmdID string
	if c, ok := d.writer.(CommandIDer); ok {
		cmdID = c.LastCommandID()
	}
	m.bus.Publish(events.WriteEvent{
		UnitID:    res.UnitID,
		CommandID: cmdID,
		Watts:     res.Watts,
		Applied:   res.Applied,
		Latency:   res.WriteLatency,
		Err:       res.WriteErr,
		Time:      now,
	})
	if res.SignLockEngaged {
		st := d.State()
		m.bus.Publish(events.SignLockEvent{
			UnitID:   res.UnitID,
			FromW:    res.PrevWatts,
			RequestW: res.Decision.TargetWatts,
			UntilMs:  st.SignLockUntilMs,
			Reason:   st.SignLockReason,
			Time:     now,
		})
	}
}

func (m *Manager) persist(ctx context.Context, res Result, now time.Time) {
	m.mu.Lock()
	store := m.store
	m.mu.Unlock()
	if store == nil {
		return
	}
	if err := store.Append(ctx, ToLogRecord(res, now)); err != nil {
		m.logger.Errorf("trace store error: %v", err)
	}
}

// ToLogRecord converts a cycle result into a persisted trace record.
func ToLogRecord(res Result, now time.Time) logging.LogRecord {
	rec := logging.LogRecord{
		Timestamp:   now,
		UnitID:      res.UnitID,
		Source:      res.Source,
		Winner:      res.Decision.Source,
		Reason:      res.Reason,
		RequestedW:  res.Decision.TargetWatts,
		FinalW:      res.Watts,
		SoCPct:      res.SoCPct,
		GridW:       res.GridW,
		Applied:     res.Applied,
		Gated:       res.Gated,
		SignLocked:  res.Trace.SignLocked,
		LockUntilMs: res.Trace.LockUntilMs,
		ZeroBandW:   res.Trace.ZeroBandW,
		HardBound:   res.Trace.HardBound,
	}
	for _, s := range res.Trace.Stages {
		rec.Stages = append(rec.Stages, logging.Stage{Name: s.Name, Watts: s.Watts, Note: s.Note})
	}
	return rec
}

// Status returns the last known status of every unit, in fleet order.
func (m *Manager) Status() []UnitStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UnitStatus, 0, len(m.units))
	for _, d := range m.units {
		out = append(out, *m.status[d.UnitID()])
	}
	return out
}

// Close releases resources held by the manager.
func (m *Manager) Close() error {
	if m.bus != nil {
		m.bus.Close()
	}
	m.mu.Lock()
	store := m.store
	m.store = nil
	m.mu.Unlock()
	if store != nil {
		return store.Close()
	}
	return nil
}
