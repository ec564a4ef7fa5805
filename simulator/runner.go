package simulator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/NexoWatt/nexowatt-ems/core/datapoint"
	"github.com/NexoWatt/nexowatt-ems/core/dispatch"
	"github.com/NexoWatt/nexowatt-ems/core/dispatch/logging"
	"github.com/NexoWatt/nexowatt-ems/core/logger"
	"github.com/NexoWatt/nexowatt-ems/core/model"
	inlog "github.com/NexoWatt/nexowatt-ems/infra/logger"
)

// Step is the state of the site after one cycle.
type Step struct {
	Index    int
	Time     time.Time
	LoadW    float64
	PVW      float64
	GridW    float64 // measured by the dispatcher, import positive
	BatteryW float64 // actually delivered over the following interval
	SoCPct   float64
	Result   dispatch.Result
}

// Report aggregates a whole run.
type Report struct {
	Scenario    string
	Steps       int
	ImportWh    float64
	ExportWh    float64
	PeakImportW float64
	InitialSoC  float64
	FinalSoC    float64
	NotApplied  int
	SignLocks   int
	Summary     logging.Summary
}

// Options controls a run. Every field is optional.
type Options struct {
	Store  logging.LogStore
	Log    logger.Logger
	OnStep func(Step)
}

// Run simulates sc in closed loop: the site and battery produce the
// measurements, the dispatcher computes a setpoint and the battery follows
// it for one interval unless the command is dropped.
func Run(ctx context.Context, sc *Scenario, opts Options) (Report, error) {
	cfg, err := sc.DispatchConfig()
	if err != nil {
		return Report{}, err
	}
	log := opts.Log
	if log == nil {
		log = inlog.NopLogger{}
	}

	bat := &Battery{
		CapacityKWh:   sc.Battery.CapacityKWh,
		SoCPct:        sc.Battery.InitialSoCPct,
		MaxChargeW:    sc.Battery.MaxChargeW,
		MaxDischargeW: sc.Battery.MaxDischargeW,
		Efficiency:    sc.Battery.Efficiency,
	}
	ack := NewAckPolicy(0, sc.Ack.DropRate, sc.Seed)
	store := datapoint.NewStore(datapoint.Options{})

	var target float64
	writer := dispatch.SetpointWriterFunc(func(ctx context.Context, watts int) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if !ack.Accept() {
			return false, nil
		}
		target = float64(watts)
		return true, nil
	})
	d, err := dispatch.NewDispatcher(sc.UnitID, cfg, store.View(sc.UnitID), writer, log)
	if err != nil {
		return Report{}, err
	}

	rep := Report{Scenario: sc.Name, InitialSoC: bat.SoC()}
	var recs []logging.LogRecord
	dt := sc.Step()
	batteryW := 0.0
	n := sc.Steps()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		now := sc.Start.Add(time.Duration(i) * dt)
		sec := float64(i) * dt.Seconds()
		nowMs := now.UnixMilli()

		grid := sc.Site.GridW(sec, batteryW)
		publish(store, sc, sec, nowMs, grid, batteryW, bat.SoC())

		res := d.Cycle(ctx, now)
		if res.WriteErr != nil {
			return rep, fmt.Errorf("step %d: %w", i, res.WriteErr)
		}
		batteryW = bat.ApplyPower(target, dt)

		after := sc.Site.GridW(sec, batteryW)
		if after > 0 {
			rep.ImportWh += after * dt.Hours()
		} else {
			rep.ExportWh += -after * dt.Hours()
		}
		rep.PeakImportW = math.Max(rep.PeakImportW, after)
		if !res.Applied {
			rep.NotApplied++
		}
		if res.SignLockEngaged {
			rep.SignLocks++
		}

		rec := dispatch.ToLogRecord(res, now)
		recs = append(recs, rec)
		if opts.Store != nil {
			if err := opts.Store.Append(ctx, rec); err != nil {
				log.Warnf("append trace: %v", err)
			}
		}
		if opts.OnStep != nil {
			opts.OnStep(Step{
				Index:    i,
				Time:     now,
				LoadW:    sc.Site.LoadAt(sec),
				PVW:      sc.Site.PVAt(sec),
				GridW:    grid,
				BatteryW: batteryW,
				SoCPct:   bat.SoC(),
				Result:   res,
			})
		}
	}
	rep.Steps = n
	rep.FinalSoC = bat.SoC()
	rep.Summary = logging.Summarize(recs)
	return rep, nil
}

// publish writes the measurements and external snapshots seen by one cycle.
func publish(store *datapoint.Store, sc *Scenario, sec float64, nowMs int64, grid, batteryW, soc float64) {
	store.SetNumber(model.KeyGridPowerW, grid, nowMs)
	store.SetNumber(model.KeyGridPowerRawW, grid, nowMs)
	store.SetNumber(model.KeySoCPct, soc, nowMs)
	store.SetNumber(model.KeyBatteryPowerW, batteryW, nowMs)
	store.SetNumber(model.KeyPVExportW, math.Max(0, -grid), nowMs)
	if sc.ForecastKWh != nil {
		store.SetNumber(model.KeyPVForecastKWh, *sc.ForecastKWh, nowMs)
	}
	if a := sc.Assist.At(sec); a > 0 {
		store.SetNumber(model.KeyAssistRequestW, a, nowMs)
	} else {
		store.Delete(model.KeyAssistRequestW)
	}

	if c, ok := capAt(sc.Caps, sec); ok {
		setOpt(store, model.KeyCapImportLimitW, c.ImportLimitW, nowMs)
		setOpt(store, model.KeyCapPeakShavingLimitW, c.PeakShavingLimitW, nowMs)
		setOpt(store, model.KeyCapRequiredReductionW, c.RequiredReductionW, nowMs)
		if c.ImportLimitSource != "" {
			store.SetText(model.KeyCapImportLimitSource, c.ImportLimitSource, nowMs)
		}
	}

	if t, ok := tariffAt(sc.Tariff, sec); ok {
		store.SetBool(model.KeyTariffActive, t.Active, nowMs)
		store.SetNumber(model.KeyTariffDesiredW, t.DesiredW, nowMs)
		if t.State != "" {
			store.SetText(model.KeyTariffState, t.State, nowMs)
		}
		if t.GridChargeAllowed != nil {
			store.SetBool(model.KeyTariffGridChargeAllowed, *t.GridChargeAllowed, nowMs)
		}
		if t.DischargeAllowed != nil {
			store.SetBool(model.KeyTariffDischargeAllowed, *t.DischargeAllowed, nowMs)
		}
	}
}

func setOpt(store *datapoint.Store, key string, v *float64, nowMs int64) {
	if v == nil {
		store.Delete(key)
		return
	}
	store.SetNumber(key, *v, nowMs)
}
