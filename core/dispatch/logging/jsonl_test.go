package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NexoWatt/nexowatt-ems/core/model"
)

func TestJSONLStore_AppendQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	store, err := Open(Options{Backend: BackendJSONL, Path: path})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 5; i++ {
		rec := LogRecord{Timestamp: base.Add(time.Duration(i) * time.Second), UnitID: "ess1", Source: model.SourceSelfConsumption, FinalW: 100 * i}
		require.NoError(t, store.Append(context.Background(), rec))
	}
	// a corrupt line is skipped
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, _ = f.WriteString("{not json\n")
	_ = f.Close()

	out, err := store.Query(context.Background(), LogQuery{Start: base.Add(2 * time.Second), End: base.Add(3 * time.Second)})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 200, out[0].FinalW)
	assert.Equal(t, model.SourceSelfConsumption, out[0].Source)

	out, err = store.Query(context.Background(), LogQuery{Source: "pv_surplus"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "csv", Path: "x"})
	assert.Error(t, err)
}
