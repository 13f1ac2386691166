// Package agg provides an event-sourced aggregate reduction engine.
//
// # Overview
//
// An aggregate's current state is derived by folding an ordered sequence of
// tagged events over an initial state. The engine tracks newly produced
// (uncommitted) events and a monotonic version counter, and leaves all
// persistence decisions to collaborators built on top.
//
// # Core Components
//
// Def: describes one event kind. A Def carries a unique tag and an optional
// primary-key extraction function used by persistence collaborators for
// indexing; the reducer itself never calls it. Defs are created once,
// typically as package-level variables, and invoked as factories:
//
//	var Incremented = agg.NewDef[int]("increment")
//
//	ev := Incremented.New(2) // Event{Tag: "increment", Payload: 2}
//
// Builder: an immutable assembler for the tag-to-handler registry. Every
// combinator returns a new builder value, so partially configured builders
// can be shared and branched safely:
//
//	b := agg.NewBuilder[int]().WithInitialState(func() int { return 0 })
//	b = agg.On(b, Incremented, func(s int, n int) int { return s + n })
//	b = agg.On(b, Decremented, func(s int, n int) int { return s - n })
//
// Reducer: the frozen registry paired with an initial-state supplier.
// Applying a tagged event to an [Aggregate] snapshot yields a new snapshot
// with version+1 and the event appended to its uncommitted changes:
//
//	r, err := b.Reducer()
//	a, err := r.Apply(agg.NewAggregate[int]("counter-1"), Incremented.New(2))
//
// Apply is pure: the input snapshot is never mutated.
//
// # Missing Handlers
//
// By default a tag without a registered handler fails with
// [ErrUnknownEventTag] (strict dispatch). Forward-compatible streams that
// must tolerate unknown event kinds opt into pass-through dispatch via
// [WithPassThrough], which keeps the state unchanged while still advancing
// the version and recording the event.
//
// # Persistence Collaborators
//
// The engine is storage-free, but the package ships the collaborator layer
// the persisted-state contract needs: [Envelope] as the unit of storage,
// [EventStore] with optimistic concurrency (use [NewInMemoryStore] for
// tests, or the adapters/nats and adapters/sqlite packages for production
// storage), [Repository] for rehydration and saving, [Snapshotter] for
// state snapshots, and [Consumer]/[Projection] for building read models.
// Uncommitted changes are cleared by the repository after a successful
// append, never by the reducer.
package agg
