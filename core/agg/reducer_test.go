package agg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newCounterReducer(t *testing.T, opts ...ReducerOption) *Reducer[counter] {
	t.Helper()
	r, err := newCounterBuilder().Reducer(opts...)
	require.NoError(t, err)
	return r
}

func TestNewReducer_RequiresInitialState(t *testing.T) {
	b := On(NewBuilder[counter](), defIncrement, func(s counter, p amount) counter {
		s.Value += p.Amount
		return s
	})
	_, err := b.Reducer()
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestReducer_Apply(t *testing.T) {
	r := newCounterReducer(t)

	a0 := NewAggregate[counter]("c1")
	require.EqualValues(t, 0, a0.Version)
	require.Nil(t, a0.State)
	require.False(t, a0.Dirty())

	a1, err := r.Apply(a0, defIncrement.New(amount{Amount: 2}))
	require.NoError(t, err)
	require.Equal(t, "c1", a1.ID)
	require.EqualValues(t, 1, a1.Version)
	require.Equal(t, 2, a1.State.Value)
	require.Len(t, a1.Uncommitted, 1)

	a2, err := r.Apply(a1, defDecrement.New(amount{Amount: 1}))
	require.NoError(t, err)
	require.EqualValues(t, 2, a2.Version)
	require.Equal(t, 1, a2.State.Value)
	require.Len(t, a2.Uncommitted, 2)
	require.Equal(t, "increment", a2.Uncommitted[0].Tag)
	require.Equal(t, "decrement", a2.Uncommitted[1].Tag)

	// inputs are untouched
	require.Nil(t, a0.State)
	require.Empty(t, a0.Uncommitted)
	require.EqualValues(t, 1, a1.Version)
	require.Equal(t, 2, a1.State.Value)
	require.Len(t, a1.Uncommitted, 1)
}

func TestReducer_Apply_NoAliasing(t *testing.T) {
	r := newCounterReducer(t)

	a1, err := r.Apply(NewAggregate[counter]("c1"), defIncrement.New(amount{Amount: 1}))
	require.NoError(t, err)

	// two diverging applies from the same snapshot must not share the
	// uncommitted backing array
	b1, err := r.Apply(a1, defIncrement.New(amount{Amount: 10}))
	require.NoError(t, err)
	b2, err := r.Apply(a1, defDecrement.New(amount{Amount: 10}))
	require.NoError(t, err)

	require.Equal(t, "increment", b1.Uncommitted[1].Tag)
	require.Equal(t, "decrement", b2.Uncommitted[1].Tag)
	require.Equal(t, "increment", a1.Uncommitted[0].Tag)
}

func TestReducer_Fold(t *testing.T) {
	r := newCounterReducer(t)

	a, err := r.Fold(
		NewAggregate[counter]("c1"),
		defIncrement.New(amount{Amount: 2}),
		defDecrement.New(amount{Amount: 1}),
	)
	require.NoError(t, err)
	require.EqualValues(t, 2, a.Version)
	require.Equal(t, 1, a.State.Value)
	require.Len(t, a.Uncommitted, 2)
}

func TestReducer_UnknownTag(t *testing.T) {
	r := newCounterReducer(t)

	a0 := NewAggregate[counter]("c1")
	_, err := r.Apply(a0, Event{Tag: "nope", Payload: amount{}})
	require.ErrorIs(t, err, ErrUnknownEventTag)

	// failed apply returns the input unchanged
	a1, err := r.Fold(a0,
		defIncrement.New(amount{Amount: 1}),
		Event{Tag: "nope", Payload: amount{}},
	)
	require.ErrorIs(t, err, ErrUnknownEventTag)
	require.EqualValues(t, 1, a1.Version)
	require.Len(t, a1.Uncommitted, 1)
}

func TestReducer_PassThrough(t *testing.T) {
	r := newCounterReducer(t, WithPassThrough())
	require.True(t, r.PassThrough())

	a, err := r.Fold(
		NewAggregate[counter]("c1"),
		defIncrement.New(amount{Amount: 5}),
		Event{Tag: "unknown_event", Payload: struct{}{}},
	)
	require.NoError(t, err)

	// the unhandled event still advances the version and is still recorded
	require.EqualValues(t, 2, a.Version)
	require.Equal(t, 5, a.State.Value)
	require.Len(t, a.Uncommitted, 2)
	require.Equal(t, "unknown_event", a.Uncommitted[1].Tag)
}

func TestReducer_PayloadTypeMismatch(t *testing.T) {
	r := newCounterReducer(t)

	_, err := r.Apply(NewAggregate[counter]("c1"), Event{Tag: "increment", Payload: "not an amount"})
	require.ErrorIs(t, err, ErrPayloadType)
}

func TestReducer_Replay(t *testing.T) {
	r := newCounterReducer(t)

	a, err := r.Replay(
		NewAggregate[counter]("c1"),
		defIncrement.New(amount{Amount: 2}),
		defIncrement.New(amount{Amount: 3}),
	)
	require.NoError(t, err)
	require.EqualValues(t, 2, a.Version)
	require.Equal(t, 5, a.State.Value)
	require.Empty(t, a.Uncommitted, "replayed history is already committed")
}

func TestReducer_InitialStateSupplier(t *testing.T) {
	b := newCounterBuilder().WithInitialState(func() counter { return counter{Value: 100} })
	r, err := b.Reducer()
	require.NoError(t, err)

	a, err := r.Apply(NewAggregate[counter]("c1"), defIncrement.New(amount{Amount: 1}))
	require.NoError(t, err)
	require.Equal(t, 101, a.State.Value, "supplier seeds the first fold")

	a, err = r.Apply(a, defIncrement.New(amount{Amount: 1}))
	require.NoError(t, err)
	require.Equal(t, 102, a.State.Value, "supplier is not consulted once state exists")
}

// user models the fold of an account lifecycle: the same events produce
// the same state through any reducer built from the same builder.
type user struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Active bool   `json:"active"`
}

type userRegistered struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type userRenamed struct {
	Name string `json:"name"`
}

type userEmailChanged struct {
	Email string `json:"email"`
}

type userDeactivated struct{}

func TestReducer_UserLifecycle(t *testing.T) {
	var (
		registered   = NewDef[userRegistered]("user_registered")
		renamed      = NewDef[userRenamed]("user_renamed")
		emailChanged = NewDef[userEmailChanged]("user_email_changed")
		deactivated  = NewDef[userDeactivated]("user_deactivated")
	)

	supplier := func() user { return user{} }

	b := NewBuilder[user]().WithInitialState(supplier)
	b = On(b, registered, func(s user, p userRegistered) user {
		s.Name = p.Name
		s.Email = p.Email
		s.Active = true
		return s
	})
	b = On(b, renamed, func(s user, p userRenamed) user {
		s.Name = p.Name
		return s
	})
	b = On(b, emailChanged, func(s user, p userEmailChanged) user {
		s.Email = p.Email
		return s
	})
	b = On(b, deactivated, func(s user, _ userDeactivated) user {
		s.Active = false
		return s
	})

	events := []Event{
		registered.New(userRegistered{Name: "Jane", Email: "jane@example.com"}),
		renamed.New(userRenamed{Name: "Jane Doe"}),
		emailChanged.New(userEmailChanged{Email: "jane@doe.com"}),
		deactivated.New(userDeactivated{}),
	}

	// direct construction from the frozen registry and the builder
	// convenience path must agree on the whole fold
	r1, err := NewReducer(b.Build(), supplier)
	require.NoError(t, err)
	r2, err := b.Reducer()
	require.NoError(t, err)

	a1, err := r1.Fold(NewAggregate[user]("u1"), events...)
	require.NoError(t, err)
	a2, err := r2.Fold(NewAggregate[user]("u1"), events...)
	require.NoError(t, err)

	want := user{Name: "Jane Doe", Email: "jane@doe.com", Active: false}
	require.Equal(t, want, *a1.State)
	require.Equal(t, *a1.State, *a2.State)
	require.Equal(t, a1.Version, a2.Version)
	require.EqualValues(t, 4, a1.Version)
	require.Len(t, a1.Uncommitted, 4)
}
