package agg

import (
	"fmt"
	"maps"
	"slices"
)

// handlerFunc is the stored form of a registered handler: the typed
// transition function wrapped with its payload assertion.
type handlerFunc[S any] func(state S, ev Event) (S, error)

// Handlers is a frozen, read-only registry mapping event tags to state
// transition functions. It is produced by [Builder.Build] and never
// mutated afterwards.
type Handlers[S any] struct {
	m map[string]handlerFunc[S]
}

func (h Handlers[S]) Len() int             { return len(h.m) }
func (h Handlers[S]) Has(tag string) bool  { _, ok := h.m[tag]; return ok }
func (h Handlers[S]) lookup(tag string) (handlerFunc[S], bool) {
	fn, ok := h.m[tag]
	return fn, ok
}

// Tags returns the registered tags in sorted order.
func (h Handlers[S]) Tags() []string {
	return slices.Sorted(maps.Keys(h.m))
}

// Builder accumulates handler registrations and an initial-state supplier.
// Builders are immutable values: every combinator copies and returns a new
// builder, so a partially configured builder can be branched into several
// aggregates without mutation races.
type Builder[S any] struct {
	handlers map[string]handlerFunc[S]
	initial  func() S
}

// NewBuilder returns an empty builder: no handlers, no initial-state
// supplier.
func NewBuilder[S any]() Builder[S] {
	return Builder[S]{handlers: map[string]handlerFunc[S]{}}
}

func (b Builder[S]) clone() Builder[S] {
	return Builder[S]{handlers: maps.Clone(b.handlers), initial: b.initial}
}

// On registers fn as the transition function for d's tag and returns the
// extended builder. Registering a second handler for the same tag
// overwrites the first: last write wins.
//
// On is a package-level function because Go methods cannot introduce the
// payload type parameter P.
func On[S, P any](b Builder[S], d Def[P], fn func(state S, payload P) S) Builder[S] {
	out := b.clone()
	out.handlers[d.Tag()] = func(state S, ev Event) (S, error) {
		p, ok := ev.Payload.(P)
		if !ok {
			return state, fmt.Errorf(
				"%w: tag=%s want %T, got %T",
				ErrPayloadType, ev.Tag, *new(P), ev.Payload,
			)
		}
		return fn(state, p), nil
	}
	return out
}

// Merge unions the receiver's registry with other's. On a tag collision the
// handler from other wins, the same last-write-wins rule [On] applies to a
// single tag. Likewise other's initial-state supplier, when set, replaces
// the receiver's. This lets reusable partial registries (shared audit
// handlers, say) be composed without ad-hoc priority rules.
func (b Builder[S]) Merge(other Builder[S]) Builder[S] {
	out := b.clone()
	maps.Copy(out.handlers, other.handlers)
	if other.initial != nil {
		out.initial = other.initial
	}
	return out
}

// WithInitialState sets the supplier producing the seed state for
// aggregates with no folded history. Calling it again before build is
// legal; the most recent supplier wins.
func (b Builder[S]) WithInitialState(fn func() S) Builder[S] {
	out := b.clone()
	out.initial = fn
	return out
}

// Build freezes the registry. It cannot fail: configuration is checked
// when the reducer is constructed, not here.
func (b Builder[S]) Build() Handlers[S] {
	return Handlers[S]{m: maps.Clone(b.handlers)}
}

// Reducer freezes the registry and constructs the reducer in one step.
func (b Builder[S]) Reducer(opts ...ReducerOption) (*Reducer[S], error) {
	return NewReducer(b.Build(), b.initial, opts...)
}
