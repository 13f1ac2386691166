package agg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type counter struct {
	Value int `json:"value"`
}

type amount struct {
	Amount int `json:"amount"`
}

var (
	defIncrement = NewDef[amount]("increment")
	defDecrement = NewDef[amount]("decrement")
)

func newCounterBuilder() Builder[counter] {
	b := NewBuilder[counter]().WithInitialState(func() counter { return counter{} })
	b = On(b, defIncrement, func(s counter, p amount) counter {
		s.Value += p.Amount
		return s
	})
	b = On(b, defDecrement, func(s counter, p amount) counter {
		s.Value -= p.Amount
		return s
	})
	return b
}

func TestBuilder_Immutable(t *testing.T) {
	base := NewBuilder[counter]()
	require.Equal(t, 0, base.Build().Len())

	withInc := On(base, defIncrement, func(s counter, p amount) counter {
		s.Value += p.Amount
		return s
	})

	// base is unaffected
	require.Equal(t, 0, base.Build().Len())
	require.Equal(t, 1, withInc.Build().Len())
	require.True(t, withInc.Build().Has("increment"))
}

func TestBuilder_Branching(t *testing.T) {
	base := newCounterBuilder()

	reset := NewDef[struct{}]("reset")
	branchA := On(base, reset, func(s counter, _ struct{}) counter {
		return counter{}
	})
	branchB := base

	require.True(t, branchA.Build().Has("reset"))
	require.False(t, branchB.Build().Has("reset"))
	require.Equal(t, []string{"decrement", "increment"}, branchB.Build().Tags())
	require.Equal(t, []string{"decrement", "increment", "reset"}, branchA.Build().Tags())
}

func TestBuilder_LastWriteWins(t *testing.T) {
	b := newCounterBuilder()
	// re-register increment with doubled semantics
	b = On(b, defIncrement, func(s counter, p amount) counter {
		s.Value += 2 * p.Amount
		return s
	})

	r, err := b.Reducer()
	require.NoError(t, err)

	a, err := r.Apply(NewAggregate[counter]("c1"), defIncrement.New(amount{Amount: 3}))
	require.NoError(t, err)
	require.Equal(t, 6, a.State.Value)
	require.Equal(t, 2, r.Handlers().Len(), "overwrite must not grow the registry")
}

func TestBuilder_Merge(t *testing.T) {
	left := newCounterBuilder()

	audit := NewDef[struct{}]("audited")
	right := NewBuilder[counter]()
	right = On(right, audit, func(s counter, _ struct{}) counter { return s })
	// right overrides increment: argument wins on collision
	right = On(right, defIncrement, func(s counter, p amount) counter {
		s.Value += 10 * p.Amount
		return s
	})

	merged := left.Merge(right)

	require.Equal(t, []string{"audited", "decrement", "increment"}, merged.Build().Tags())

	r, err := merged.Reducer()
	require.NoError(t, err)
	a, err := r.Apply(NewAggregate[counter]("c1"), defIncrement.New(amount{Amount: 1}))
	require.NoError(t, err)
	require.Equal(t, 10, a.State.Value)

	// operands are unaffected
	require.False(t, left.Build().Has("audited"))
	require.False(t, right.Build().Has("decrement"))
}

func TestBuilder_MergeInitialState(t *testing.T) {
	left := NewBuilder[counter]().WithInitialState(func() counter { return counter{Value: 1} })
	right := NewBuilder[counter]().WithInitialState(func() counter { return counter{Value: 2} })

	r, err := left.Merge(right).Reducer()
	require.NoError(t, err)
	require.Equal(t, counter{Value: 2}, r.InitialState())

	// merging a builder without a supplier keeps the receiver's
	r, err = left.Merge(NewBuilder[counter]()).Reducer()
	require.NoError(t, err)
	require.Equal(t, counter{Value: 1}, r.InitialState())
}

func TestBuilder_InitialStateLastWins(t *testing.T) {
	b := NewBuilder[counter]().
		WithInitialState(func() counter { return counter{Value: 1} }).
		WithInitialState(func() counter { return counter{Value: 7} })

	r, err := b.Reducer()
	require.NoError(t, err)
	require.Equal(t, counter{Value: 7}, r.InitialState())
}
