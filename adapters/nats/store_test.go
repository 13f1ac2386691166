package nats

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggr-go/core/agg"
)

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

func TestEventStore(t *testing.T) {
	connectNatsC := NewTestContainer(t)
	store, err := NewEventStore(EventStoreConfig{
		Connect: connectNatsC,
		Log:     slog.Default(),
	})
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })

	t.Run("stream info", func(t *testing.T) {
		si, err := store.stream.Info(t.Context())
		require.NoError(t, err)
		require.NotNil(t, si)
		require.Equal(t, "AGGR_EVENTS", si.Config.Name)
		require.Equal(t, uint64(1), si.Config.FirstSeq)
		require.Equal(t, []string{fmt.Sprintf("%s.>", defaultSubjectPrefix)}, si.Config.Subjects)
	})

	t.Run("append and load", func(t *testing.T) {
		res, err := store.Append(t.Context(), "counter", "c1", 0, []agg.Envelope{
			testEnvelope("counter", "c1", "increment", 1),
			testEnvelope("counter", "c1", "increment", 2),
			testEnvelope("counter", "c1", "decrement", 3),
		})
		require.NoError(t, err)
		require.NotNil(t, res)
		require.EqualValues(t, 3, res.LastSeq)

		lm, err := store.getMostRecentEventForAgg(t.Context(), "counter", "c1")
		require.NoError(t, err)
		require.EqualValues(t, 3, lm.Version)

		envs, err := store.Load(t.Context(), "counter", "c1")
		require.NoError(t, err)
		require.Len(t, envs, 3)
		require.Equal(t, "increment", envs[0].Tag)
		require.Equal(t, "decrement", envs[2].Tag)
		require.EqualValues(t, 1, envs[0].Version)
		require.EqualValues(t, 3, envs[2].Version)
	})

	t.Run("load from version", func(t *testing.T) {
		envs, err := store.Load(t.Context(), "counter", "c1", agg.WithStartAtVersion(3))
		require.NoError(t, err)
		require.Len(t, envs, 1)
		require.EqualValues(t, 3, envs[0].Version)
	})

	t.Run("load unknown aggregate", func(t *testing.T) {
		_, err := store.Load(t.Context(), "counter", "nope")
		require.ErrorIs(t, err, agg.ErrAggregateNotFound)
	})

	t.Run("concurrency conflict", func(t *testing.T) {
		_, err := store.Append(t.Context(), "counter", "c1", 1, []agg.Envelope{
			testEnvelope("counter", "c1", "increment", 2),
		})
		require.ErrorIs(t, err, agg.ErrConcurrencyConflict)
	})

	t.Run("append continues stream", func(t *testing.T) {
		res, err := store.Append(t.Context(), "counter", "c1", 3, []agg.Envelope{
			testEnvelope("counter", "c1", "increment", 4),
		})
		require.NoError(t, err)
		require.EqualValues(t, 4, res.LastSeq)
	})

	t.Run("subscribe new", func(t *testing.T) {
		sub, err := store.Subscribe(t.Context(),
			agg.WithDeliverPolicy(agg.DeliverNewPolicy),
			agg.WithFilters(agg.SubscribeFilter{AggregateType: "counter"}),
		)
		require.NoError(t, err)
		defer sub.Cancel()
		require.EqualValues(t, 4, sub.MaxSequence())

		_, err = store.Append(t.Context(), "counter", "c1", 4, []agg.Envelope{
			testEnvelope("counter", "c1", "decrement", 5),
		})
		require.NoError(t, err)

		select {
		case env := <-sub.Chan():
			require.Equal(t, "decrement", env.Tag)
			require.EqualValues(t, 5, env.Version)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for envelope")
		}
	})

	t.Run("no dangling consumers after load", func(t *testing.T) {
		cons := store.stream.ConsumerNames(t.Context())
		require.NoError(t, cons.Err())
		for n := range cons.Name() {
			require.NotContains(t, n, "loader-")
		}
	})
}
