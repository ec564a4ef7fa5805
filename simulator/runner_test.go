package simulator

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NexoWatt/nexowatt-ems/core/dispatch/logging"
	"github.com/NexoWatt/nexowatt-ems/core/model"
)

func TestClosedLoopPVSurplusAbsorbsExport(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: sunny noon
duration_s: 60
battery:
  profile: medium
  initial_soc_pct: 40
site:
  base_load_w: 500
  pv:
    - {at_s: 0, w: 3500}
`))
	require.NoError(t, err)

	var steps []Step
	rep, err := Run(context.Background(), sc, Options{OnStep: func(s Step) { steps = append(steps, s) }})
	require.NoError(t, err)
	require.Len(t, steps, 30)

	last := steps[len(steps)-1]
	assert.Equal(t, model.SourcePVSurplus, last.Result.Source)
	assert.LessOrEqual(t, math.Abs(last.GridW), 100.0, "export should be absorbed")
	assert.InDelta(t, -3000.0, last.BatteryW, 100)
	assert.Greater(t, rep.FinalSoC, rep.InitialSoC)
	assert.Zero(t, rep.Summary.DirectFlips)
	assert.Zero(t, rep.NotApplied)

	for i := 1; i < len(steps); i++ {
		delta := steps[i].Result.Watts - steps[i-1].Result.Watts
		assert.GreaterOrEqual(t, delta, -1500, "pv ramp exceeded at step %d", i)
	}
}

func TestClosedLoopPeakShaving(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: peak
duration_s: 20
battery:
  profile: medium
  initial_soc_pct: 70
site:
  base_load_w: 7000
caps:
  - {at_s: 0, peak_shaving_limit_w: 5000}
dispatch:
  self_consumption:
    enabled: false
`))
	require.NoError(t, err)

	var steps []Step
	rep, err := Run(context.Background(), sc, Options{OnStep: func(s Step) { steps = append(steps, s) }})
	require.NoError(t, err)

	first := steps[0]
	assert.Equal(t, model.SourceProtectiveDischarge, first.Result.Source)
	assert.Equal(t, 2000, first.Result.Watts)
	for _, s := range steps[1:] {
		assert.Equal(t, model.SourceProtectiveDischarge, s.Result.Source)
		assert.LessOrEqual(t, s.GridW, 5000.0)
	}
	assert.InDelta(t, 5000.0, rep.PeakImportW, 1)
	assert.Less(t, rep.FinalSoC, rep.InitialSoC)
}

func TestClosedLoopDroppedCommandsPersistTraces(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: lossy link
duration_s: 40
seed: 3
ack:
  drop_rate: 0.3
site:
  base_load_w: 500
  pv:
    - {at_s: 0, w: 4000}
`))
	require.NoError(t, err)

	store, err := logging.NewJSONLStore(filepath.Join(t.TempDir(), "sim.jsonl"))
	require.NoError(t, err)
	defer store.Close()

	rep, err := Run(context.Background(), sc, Options{Store: store})
	require.NoError(t, err)
	assert.Greater(t, rep.NotApplied, 0)
	assert.Equal(t, rep.NotApplied, rep.Summary.NotApplied)

	recs, err := store.Query(context.Background(), logging.LogQuery{UnitID: "ess"})
	require.NoError(t, err)
	assert.Len(t, recs, rep.Steps)
}

func TestRunStopsOnCancel(t *testing.T) {
	sc, err := ParseScenario([]byte("name: cancel\n"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, sc, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
