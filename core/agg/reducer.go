package agg

import (
	"fmt"
)

type reducerOpts struct {
	passThrough bool
}

// ReducerOption configures reducer construction.
type ReducerOption func(*reducerOpts)

// WithPassThrough switches missing-handler dispatch from strict to
// pass-through: an event whose tag has no registered handler leaves the
// state unchanged but still advances the version and is still recorded as
// an uncommitted change, since the event legitimately occurred even if
// this aggregate ignores it. Use it for forward-compatible streams where
// new event kinds may appear before consumers learn about them.
func WithPassThrough() ReducerOption {
	return func(o *reducerOpts) { o.passThrough = true }
}

// Reducer folds tagged events into aggregate state. It pairs a frozen
// [Handlers] registry with the initial-state supplier and is safe for
// concurrent use: every operation is pure and all held values are
// immutable.
//
// Dispatch is exact-match on the tag string. No fallback, no wildcard, no
// default handler. A tag absent from the registry fails with
// [ErrUnknownEventTag] unless the reducer was built with
// [WithPassThrough].
type Reducer[S any] struct {
	handlers    Handlers[S]
	initial     func() S
	passThrough bool
}

// NewReducer constructs a reducer from a frozen registry and an
// initial-state supplier. A nil supplier is a configuration error and is
// surfaced here, before any event is ever applied. (The state-type
// compatibility between supplier and handlers is enforced statically by
// the shared type parameter S.)
func NewReducer[S any](handlers Handlers[S], initial func() S, opts ...ReducerOption) (*Reducer[S], error) {
	if initial == nil {
		return nil, fmt.Errorf("%w: initial state supplier is required", ErrConfiguration)
	}

	options := reducerOpts{}
	for _, opt := range opts {
		opt(&options)
	}

	return &Reducer[S]{
		handlers:    handlers,
		initial:     initial,
		passThrough: options.passThrough,
	}, nil
}

// Handlers returns the frozen registry the reducer dispatches over.
func (r *Reducer[S]) Handlers() Handlers[S] { return r.handlers }

// InitialState invokes the initial-state supplier.
func (r *Reducer[S]) InitialState() S { return r.initial() }

// PassThrough reports whether missing-handler dispatch is pass-through
// rather than strict.
func (r *Reducer[S]) PassThrough() bool { return r.passThrough }

// reduce resolves the current state of a, dispatches ev and returns the
// next state. The supplier is consulted only while a carries no state.
func (r *Reducer[S]) reduce(a Aggregate[S], ev Event) (S, error) {
	var state S
	if a.State != nil {
		state = *a.State
	} else {
		state = r.initial()
	}

	fn, ok := r.handlers.lookup(ev.Tag)
	if !ok {
		if r.passThrough {
			return state, nil
		}
		return state, fmt.Errorf("%w: %s", ErrUnknownEventTag, ev.Tag)
	}

	return fn(state, ev)
}

// Apply folds one event into a and returns the next snapshot: same id,
// version+1, the new state, and ev appended to the uncommitted changes.
// The input snapshot is left untouched; the returned snapshot owns a fresh
// uncommitted slice so no aliasing exists between old and new values.
func (r *Reducer[S]) Apply(a Aggregate[S], ev Event) (Aggregate[S], error) {
	state, err := r.reduce(a, ev)
	if err != nil {
		return a, err
	}

	uncommitted := make([]Event, len(a.Uncommitted), len(a.Uncommitted)+1)
	copy(uncommitted, a.Uncommitted)
	uncommitted = append(uncommitted, ev)

	return Aggregate[S]{
		ID:          a.ID,
		Version:     a.Version.Next(),
		State:       &state,
		Uncommitted: uncommitted,
	}, nil
}

// Fold applies events to a in order, returning the final snapshot. On
// error the snapshot folded so far is returned alongside it.
func (r *Reducer[S]) Fold(a Aggregate[S], events ...Event) (Aggregate[S], error) {
	var err error
	for _, ev := range events {
		a, err = r.Apply(a, ev)
		if err != nil {
			return a, err
		}
	}
	return a, nil
}

// Replay folds already-committed history into a without recording the
// events as uncommitted changes. This is the rehydration path used by
// [Repository.Load]; the version still advances by 1 per event.
func (r *Reducer[S]) Replay(a Aggregate[S], events ...Event) (Aggregate[S], error) {
	for _, ev := range events {
		state, err := r.reduce(a, ev)
		if err != nil {
			return a, err
		}
		a = Aggregate[S]{
			ID:          a.ID,
			Version:     a.Version.Next(),
			State:       &state,
			Uncommitted: a.Uncommitted,
		}
	}
	return a, nil
}
