package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Memory(t *testing.T) {
	type Snapshot struct {
		ID      string
		Version uint64
	}
	s := NewMemStore()

	_, err := Get[Snapshot](t.Context(), s, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, Put[Snapshot](t.Context(), s, "s1", Snapshot{ID: "s1", Version: 3}, PutOptions{}))
	require.NoError(t, Put[Snapshot](t.Context(), s, "s2", Snapshot{ID: "s2", Version: 7}, PutOptions{}))

	loaded, err := Get[Snapshot](t.Context(), s, "s1")
	require.NoError(t, err)
	require.Equal(t, Snapshot{ID: "s1", Version: 3}, loaded)

	require.NoError(t, s.Delete(t.Context(), "s1"))
	_, err = Get[Snapshot](t.Context(), s, "s1")
	require.ErrorIs(t, err, ErrNotFound)
}
