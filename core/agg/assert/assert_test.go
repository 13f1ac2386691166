package assert

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAssert(t *testing.T) {
	mustBeTrue := True(true, "must be true")
	require.True(t, mustBeTrue.Eval())
	require.NoError(t, mustBeTrue.Check())
	require.Equal(t, "must be true", mustBeTrue.String())

	mustBeFalse := False(false, "must be false")
	require.True(t, mustBeFalse.Eval())
	require.NoError(t, mustBeFalse.Check())
	require.Equal(t, "must be false", mustBeFalse.String())

	require.NoError(t, All(mustBeTrue, mustBeFalse).Check())

	require.Error(t, All(mustBeTrue, mustBeFalse, newCond("foo", func() bool {
		return false
	})).Check())
}

func TestAssert_Not(t *testing.T) {
	c := Not(True(true, "is set"))
	require.False(t, c.Eval())
	require.Error(t, c.Check())
	require.Equal(t, "[not](is set)", c.String())
}

func TestAssert_NonEmpty(t *testing.T) {
	require.NoError(t, NonEmpty("x", "id").Check())
	require.Error(t, NonEmpty("", "id").Check())
}

func TestAssert_Guard(t *testing.T) {
	ran := false
	require.NoError(t, Guard(func() error {
		ran = true
		return nil
	}, True(true, "ok")))
	require.True(t, ran)

	ran = false
	require.Error(t, Guard(func() error {
		ran = true
		return nil
	}, True(false, "nope")))
	require.False(t, ran)

	wantErr := errors.New("boom")
	require.ErrorIs(t, Guard(func() error { return wantErr }, True(true, "ok")), wantErr)
}
