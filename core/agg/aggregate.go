package agg

import (
	"errors"
)

var (
	ErrAggregateNotFound   = errors.New("aggregate not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrUnknownEventTag     = errors.New("unknown event tag")
	ErrPayloadType         = errors.New("payload type mismatch")
	ErrConfiguration       = errors.New("reducer configuration error")
)

// Aggregate is one snapshot of an event-derived entity. Snapshots are
// immutable values: [Reducer.Apply] consumes one snapshot and returns a
// new, independent one. The holder of the latest snapshot is its sole
// owner.
//
// State is nil until the first event has ever been folded. Uncommitted
// holds events applied in memory but not yet durably persisted, in
// application order; clearing it after a successful append is the
// persistence collaborator's job (see [Aggregate.Committed]), never the
// reducer's.
type Aggregate[S any] struct {
	ID          string  `json:"id"`
	Version     Version `json:"version"`
	State       *S      `json:"state,omitempty"`
	Uncommitted []Event `json:"uncommitted_changes,omitempty"`
}

// NewAggregate returns a fresh snapshot for an id with no history:
// version 0, absent state, no uncommitted changes.
func NewAggregate[S any](id string) Aggregate[S] {
	return Aggregate[S]{ID: id}
}

// Dirty reports whether the snapshot carries events that still need to be
// persisted.
func (a Aggregate[S]) Dirty() bool { return len(a.Uncommitted) > 0 }

// StateOr returns the folded state, or fallback when no event has ever
// been applied.
func (a Aggregate[S]) StateOr(fallback S) S {
	if a.State == nil {
		return fallback
	}
	return *a.State
}

// Committed returns a copy of the snapshot with its uncommitted changes
// cleared. Persistence collaborators call this after a successful append.
func (a Aggregate[S]) Committed() Aggregate[S] {
	a.Uncommitted = nil
	return a
}
