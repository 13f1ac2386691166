package agg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type (
	// Projection consumes persisted events to build read models / indexes.
	Projection interface {
		Name() string
		Handler
	}
)

// FoldProjection maintains the latest clean snapshot of every aggregate of
// one type by replaying the event stream through a [Reducer]. It is the
// read-model counterpart of [Repository]: same fold, applied across all
// ids instead of one.
//
// It implements [Checkpoint] and optionally persists its whole state via a
// [Snapshotter], so a restarted consumer resumes where it left off instead
// of replaying from sequence 1.
type FoldProjection[S any] struct {
	name    string
	aggType string
	reducer *Reducer[S]
	log     *slog.Logger

	mu     sync.RWMutex
	states map[string]Aggregate[S]

	snapshotter      Snapshotter
	snapshotEvery    uint64
	persistedLastSeq uint64
	lastSeq          uint64
	version          Version
}

type FoldProjectionOpts struct {
	Log *slog.Logger
	// Snapshotter, when set, persists the projection state. Nil keeps the
	// projection purely in memory.
	Snapshotter Snapshotter
	// SnapshotEvery is the number of live events between snapshots.
	// Defaults to 10 when a snapshotter is configured.
	SnapshotEvery uint64
}

func NewFoldProjection[S any](
	name string,
	aggType string,
	reducer *Reducer[S],
	opts FoldProjectionOpts,
) (*FoldProjection[S], error) {
	if name == "" {
		return nil, fmt.Errorf("projection name is required")
	}
	if reducer == nil {
		return nil, fmt.Errorf("projection reducer is required")
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	snapshotEvery := opts.SnapshotEvery
	if snapshotEvery == 0 {
		snapshotEvery = 10
	}

	return &FoldProjection[S]{
		name:          name,
		aggType:       aggType,
		reducer:       reducer,
		log:           log.With(slog.String("projection", name)),
		states:        map[string]Aggregate[S]{},
		snapshotter:   opts.Snapshotter,
		snapshotEvery: snapshotEvery,
	}, nil
}

func (p *FoldProjection[S]) Name() string { return p.name }

// GetLastSeq implements Checkpoint based on the last persisted snapshot.
func (p *FoldProjection[S]) GetLastSeq() (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.snapshotter == nil {
		return 0, ErrCheckpointNotFound
	}
	return p.persistedLastSeq, nil
}

// Get returns the tracked snapshot for one aggregate id.
func (p *FoldProjection[S]) Get(aggID string) (Aggregate[S], bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.states[aggID]
	return a, ok
}

// Len returns the number of tracked aggregates.
func (p *FoldProjection[S]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.states)
}

func (p *FoldProjection[S]) Handle(msgCtx MsgCtx) error {
	if p.aggType != "" && msgCtx.AggregateType() != p.aggType {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	aggID := msgCtx.AggregateID()
	a, ok := p.states[aggID]
	if !ok {
		a = NewAggregate[S](aggID)
	}

	// redelivered or out-of-order history is ignored
	if msgCtx.Version() <= a.Version {
		return nil
	}
	if expect := a.Version.Next(); msgCtx.Version() != expect {
		return fmt.Errorf("projection %s: expect version %d, got %d", p.name, expect, msgCtx.Version())
	}

	a, err := p.reducer.Replay(a, msgCtx.Event())
	if err != nil {
		return err
	}
	p.states[aggID] = a
	p.lastSeq = msgCtx.Seq()
	p.version++

	if p.snapshotter != nil && msgCtx.Live() && p.version%Version(p.snapshotEvery) == 0 {
		if err := p.snapshot(msgCtx.Context()); err != nil {
			return err
		}
	}

	return nil
}

type foldProjectionState[S any] struct {
	LastSeq uint64                  `json:"last_seq"`
	States  map[string]Aggregate[S] `json:"states"`
}

func (p *FoldProjection[S]) snapshot(ctx context.Context) error {
	data, err := json.Marshal(foldProjectionState[S]{LastSeq: p.lastSeq, States: p.states})
	if err != nil {
		return err
	}
	nextVersion := p.version
	err = p.snapshotter.SaveSnapshot(ctx, &Snapshot{
		SnapshotID:    DefaultIDGenerator()(),
		ObjID:         p.name,
		ObjType:       "projection",
		ObjVersion:    nextVersion,
		StreamSeq:     p.lastSeq,
		CreatedAt:     time.Now(),
		SchemaVersion: 1,
		Encoding:      "json",
		Data:          data,
	})
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	p.persistedLastSeq = p.lastSeq
	p.log.Debug(
		"snapshot created",
		nextVersion.SlogAttrWithKey("snapshot_version"),
		slog.Uint64("seq", p.persistedLastSeq),
	)
	return nil
}

// Start restores the projection from its most recent snapshot, if any.
func (p *FoldProjection[S]) Start(ctx context.Context) error {
	if p.snapshotter == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s, err := p.snapshotter.LoadSnapshot(ctx, "projection", p.name)
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			return nil
		}
		return fmt.Errorf("failed to restore projection snapshot: %w", err)
	}

	var state foldProjectionState[S]
	if err := json.Unmarshal(s.Data, &state); err != nil {
		return fmt.Errorf("failed to restore projection state: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = state.States
	if p.states == nil {
		p.states = map[string]Aggregate[S]{}
	}
	p.lastSeq = state.LastSeq
	p.persistedLastSeq = state.LastSeq
	p.version = s.ObjVersion

	p.log.Debug(
		"restored projection state",
		slog.Uint64("seq", p.persistedLastSeq),
		s.ObjVersion.SlogAttrWithKey("snapshot_version"),
	)
	return nil
}

var (
	_ Projection            = (*FoldProjection[int])(nil)
	_ Checkpoint            = (*FoldProjection[int])(nil)
	_ HandlerLifecycleStart = (*FoldProjection[int])(nil)
)
