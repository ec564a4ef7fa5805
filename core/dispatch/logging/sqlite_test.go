package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NexoWatt/nexowatt-ems/core/model"
)

func TestSQLiteStore_PersistQuery(t *testing.T) {
	store, err := NewSQLiteStore("file:trace_test.db?mode=memory&cache=shared")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	base := time.UnixMilli(1_700_000_000_000)
	recs := []LogRecord{
		{Timestamp: base, UnitID: "ess1", Source: model.SourceProtectiveDischarge, Winner: model.SourceProtectiveDischarge, FinalW: 800},
		{Timestamp: base.Add(2 * time.Second), UnitID: "ess1", Source: model.SourceIdle, Winner: model.SourcePVSurplus, FinalW: 0, SignLocked: true},
		{Timestamp: base.Add(4 * time.Second), UnitID: "ess2", Source: model.SourceTariffCharge, Winner: model.SourceTariffCharge, FinalW: -1800,
			Stages: []Stage{{Name: "request", Watts: -1800}, {Name: "final", Watts: -1800}}},
	}
	for _, r := range recs {
		require.NoError(t, store.Append(context.Background(), r))
	}

	out, err := store.Query(context.Background(), LogQuery{UnitID: "ess1"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 800, out[0].FinalW)

	out, err = store.Query(context.Background(), LogQuery{Source: "pv_surplus"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].SignLocked)

	out, err = store.Query(context.Background(), LogQuery{Start: base.Add(3 * time.Second)})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, model.SourceTariffCharge, out[0].Source)
	assert.Len(t, out[0].Stages, 2)
}
