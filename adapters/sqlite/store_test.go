package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggr-go/core/agg"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testEnvelope(aggType, aggID, tag string, version agg.Version) agg.Envelope {
	return agg.Envelope{
		ID:            gonanoid.Must(),
		OccurredAt:    time.Now(),
		AggregateType: aggType,
		AggregateID:   aggID,
		Tag:           tag,
		Version:       version,
		Data:          []byte(`{}`),
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestOpen_AppliesPragmas(t *testing.T) {
	store := openTestStore(t)

	var mode string
	require.NoError(t, store.sqlDB.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)

	var busy int
	require.NoError(t, store.sqlDB.QueryRow("PRAGMA busy_timeout").Scan(&busy))
	require.Equal(t, 5000, busy)
}

func TestStore_AppendLoad(t *testing.T) {
	store := openTestStore(t)

	res, err := store.Append(t.Context(), "counter", "c1", 0, []agg.Envelope{
		testEnvelope("counter", "c1", "increment", 1),
		testEnvelope("counter", "c1", "increment", 2),
		testEnvelope("counter", "c1", "decrement", 3),
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.EqualValues(t, 3, res.LastSeq)

	envs, err := store.Load(t.Context(), "counter", "c1")
	require.NoError(t, err)
	require.Len(t, envs, 3)
	require.Equal(t, "increment", envs[0].Tag)
	require.Equal(t, "decrement", envs[2].Tag)
	require.EqualValues(t, 1, envs[0].Version)
	require.EqualValues(t, 3, envs[2].Version)
	require.EqualValues(t, 1, envs[0].Seq)
	require.EqualValues(t, 3, envs[2].Seq)
}

func TestStore_LoadFromVersion(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Append(t.Context(), "counter", "c1", 0, []agg.Envelope{
		testEnvelope("counter", "c1", "increment", 1),
		testEnvelope("counter", "c1", "increment", 2),
	})
	require.NoError(t, err)

	envs, err := store.Load(t.Context(), "counter", "c1", agg.WithStartAtVersion(2))
	require.NoError(t, err)
	require.Len(t, envs, 1)
	require.EqualValues(t, 2, envs[0].Version)
}

func TestStore_LoadUnknownAggregate(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Load(t.Context(), "counter", "nope")
	require.ErrorIs(t, err, agg.ErrAggregateNotFound)
}

func TestStore_ConcurrencyConflict(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Append(t.Context(), "counter", "c1", 0, []agg.Envelope{
		testEnvelope("counter", "c1", "increment", 1),
	})
	require.NoError(t, err)

	_, err = store.Append(t.Context(), "counter", "c1", 0, []agg.Envelope{
		testEnvelope("counter", "c1", "increment", 1),
	})
	require.ErrorIs(t, err, agg.ErrConcurrencyConflict)
}

func TestStore_SubscribeUnsupported(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Subscribe(t.Context())
	require.ErrorIs(t, err, ErrSubscribeUnsupported)
}

func TestStore_Snapshots(t *testing.T) {
	store := openTestStore(t)

	_, err := store.LoadSnapshot(t.Context(), "counter", "c1")
	require.ErrorIs(t, err, agg.ErrSnapshotNotFound)

	a := agg.Aggregate[int]{ID: "c1", Version: 3}
	state := 3
	a.State = &state

	ss, err := agg.SnapshotAggregate(a, "counter", 3)
	require.NoError(t, err)
	require.NoError(t, store.SaveSnapshot(t.Context(), ss))

	loaded, err := store.LoadSnapshot(t.Context(), "counter", "c1")
	require.NoError(t, err)
	require.Equal(t, ss.SnapshotID, loaded.SnapshotID)
	require.EqualValues(t, 3, loaded.ObjVersion)

	restored, err := agg.RestoreAggregate[int](loaded)
	require.NoError(t, err)
	require.Equal(t, "c1", restored.ID)
	require.NotNil(t, restored.State)
	require.Equal(t, 3, *restored.State)

	// overwrite with a newer snapshot
	state = 5
	a.Version = 5
	ss2, err := agg.SnapshotAggregate(a, "counter", 5)
	require.NoError(t, err)
	require.NoError(t, store.SaveSnapshot(t.Context(), ss2))

	loaded, err = store.LoadSnapshot(t.Context(), "counter", "c1")
	require.NoError(t, err)
	require.EqualValues(t, 5, loaded.ObjVersion)
}
