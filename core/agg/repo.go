package agg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/aggr-go/core/cache"
)

// Repository rehydrates aggregate snapshots from an [EventStore] and
// persists uncommitted changes with optimistic concurrency. It is the
// collaborator that owns the uncommitted-changes lifecycle: after a
// successful append the returned snapshot is clean.
type Repository[S any] struct {
	log         *slog.Logger
	aggType     string
	reducer     *Reducer[S]
	registry    *PayloadRegistry
	store       EventStore
	snapshotter Snapshotter
	cache       cache.TypedCache[Aggregate[S]]
	idGen       IDGenerator
	metrics     AggMetrics
}

func NewRepository[S any](
	log *slog.Logger,
	aggType string,
	reducer *Reducer[S],
	registry *PayloadRegistry,
	store EventStore,
	opts ...RepositoryOption,
) *Repository[S] {
	options := newRepoOpts(opts...)

	return &Repository[S]{
		log:         log.With(slog.String("repo", aggType)),
		aggType:     aggType,
		reducer:     reducer,
		registry:    registry,
		store:       store,
		snapshotter: options.snapshotter,
		cache:       cache.NewTyped[Aggregate[S]](options.cache),
		idGen:       options.idGenerator,
		metrics:     options.metrics,
	}
}

// AggType returns the aggregate type name used for stream identification.
func (r *Repository[S]) AggType() string { return r.aggType }

func (r *Repository[S]) cacheKey(aggID string) string {
	return fmt.Sprintf("%s-%s", r.aggType, aggID)
}

// Load rehydrates the aggregate with id aggID by folding its committed
// history through the reducer. Returns [ErrAggregateNotFound] when the id
// has no history.
func (r *Repository[S]) Load(ctx context.Context, aggID string, opts ...LoadOption) (a Aggregate[S], err error) {
	if aggID == "" {
		return a, errors.New("aggregate id is empty")
	}

	defer r.metrics.RepoLoadDuration(r.aggType).ObserveDuration()

	loadOptions := newLoadOptions(opts...)

	log := r.log.With(
		slog.Group(
			"agg",
			slog.String("type", r.aggType),
			slog.String("id", aggID),
		),
	)

	a = NewAggregate[S](aggID)
	var startSeq uint64

	if loadOptions.useCache {
		if cached, ok := r.cache.Get(r.cacheKey(aggID)); ok {
			r.metrics.CacheHit(r.aggType)
			a = cached
			log.Debug("cache hit", a.Version.SlogAttr())
		} else {
			r.metrics.CacheMiss(r.aggType)
		}
	}

	if a.Version == 0 && loadOptions.snapshot {
		if r.snapshotter == nil {
			return a, ErrSnapshotterUnconfigured
		}
		a, startSeq, err = r.loadFromSnapshot(ctx, aggID)
		if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
			return a, err
		}
	}

	storeTimer := r.metrics.StoreLoadDuration(r.aggType)
	loaded, err := r.store.Load(
		ctx,
		r.aggType,
		aggID,
		WithStartAtVersion(a.Version.Next()),
		WithStartSeq(startSeq+1),
	)
	storeTimer.ObserveDuration()
	if err != nil {
		if errors.Is(err, ErrAggregateNotFound) && a.Version > 0 {
			// snapshot/cache is already ahead of (or at) the stream tail
			return a, nil
		}
		return a, err
	}

	for _, e := range loaded {
		if e.Version <= a.Version {
			continue
		}
		if expect := a.Version.Next(); e.Version != expect {
			return a, fmt.Errorf("expect version %d, got %d", expect, e.Version)
		}

		ev, decodeErr := r.registry.Decode(e)
		if decodeErr != nil {
			return a, decodeErr
		}
		a, err = r.reducer.Replay(a, ev)
		if err != nil {
			return a, err
		}
	}

	if a.Version == 0 {
		return a, ErrAggregateNotFound
	}

	if loadOptions.useCache {
		r.cache.Put(r.cacheKey(aggID), a)
	}

	log.Debug("loaded", a.Version.SlogAttr())

	return a, nil
}

func (r *Repository[S]) loadFromSnapshot(ctx context.Context, aggID string) (Aggregate[S], uint64, error) {
	defer r.metrics.SnapshotLoadDuration(r.aggType).ObserveDuration()

	ss, err := r.snapshotter.LoadSnapshot(ctx, r.aggType, aggID)
	if err != nil {
		return NewAggregate[S](aggID), 0, err
	}
	a, err := RestoreAggregate[S](ss)
	if err != nil {
		return a, 0, fmt.Errorf("failed to apply snapshot: %w", err)
	}
	r.log.Debug("snapshot applied", slog.Uint64("seq", ss.StreamSeq), a.Version.SlogAttr())
	return a, ss.StreamSeq, nil
}

// GetOrNew loads the aggregate, falling back to a fresh version-0 snapshot
// when the id has no history yet.
func (r *Repository[S]) GetOrNew(ctx context.Context, aggID string, opts ...LoadOption) (Aggregate[S], error) {
	a, err := r.Load(ctx, aggID, opts...)
	if err != nil {
		if errors.Is(err, ErrAggregateNotFound) {
			return NewAggregate[S](aggID), nil
		}
		return a, err
	}
	return a, nil
}

// Save appends a's uncommitted changes to the store, using the version the
// aggregate held before those events were applied as the optimistic
// concurrency expectation. On success the committed (clean) snapshot is
// returned; the input snapshot is left untouched.
func (r *Repository[S]) Save(ctx context.Context, a Aggregate[S], opts ...SaveOption) (Aggregate[S], error) {
	if !a.Dirty() {
		return a, nil
	}
	if a.ID == "" {
		return a, errors.New("aggregate id is empty")
	}

	defer r.metrics.RepoSaveDuration(r.aggType).ObserveDuration()

	saveOptions := newSaveOptions(opts...)

	expectVersion := a.Version - Version(len(a.Uncommitted))
	newEnvs, err := envelopesFor(r.idGen, r.registry, r.aggType, a.ID, expectVersion, a.Uncommitted)
	if err != nil {
		return a, err
	}

	appendTimer := r.metrics.StoreAppendDuration(r.aggType)
	res, err := r.store.Append(ctx, r.aggType, a.ID, expectVersion, newEnvs)
	appendTimer.ObserveDuration()
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			r.metrics.ConcurrencyConflict(r.aggType)
		}
		return a, fmt.Errorf("failed to save agg_type=%s agg_id=%s: %w", r.aggType, a.ID, err)
	}
	if res == nil {
		return a, errors.New("append returned nil result")
	}
	r.metrics.EventsAppended(r.aggType, len(newEnvs))

	committed := a.Committed()

	if saveOptions.useCache {
		r.cache.Put(r.cacheKey(a.ID), committed)
	}

	if saveOptions.snapshot {
		if err := r.saveSnapshot(ctx, committed, res.LastSeq); err != nil {
			return committed, err
		}
	}

	r.log.Debug(
		"saved",
		slog.Group(
			"agg",
			slog.String("id", a.ID),
			slog.String("type", r.aggType),
			slog.Uint64("seq", res.LastSeq),
			committed.Version.SlogAttr(),
		),
		slog.Int("num_events", len(newEnvs)),
	)

	return committed, nil
}

func (r *Repository[S]) saveSnapshot(ctx context.Context, a Aggregate[S], lastSeq uint64) error {
	if r.snapshotter == nil {
		return ErrSnapshotterUnconfigured
	}

	defer r.metrics.SnapshotSaveDuration(r.aggType).ObserveDuration()

	ss, err := SnapshotAggregate(a, r.aggType, lastSeq)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	if err := r.snapshotter.SaveSnapshot(ctx, ss); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	r.log.Debug("snapshot saved", ss.logAttrs())
	return nil
}

// WithTransaction loads (or freshly materializes) the aggregate, passes it
// through fn and saves the result. Serializing concurrent writers to the
// same id remains the caller's concern; a conflicting append surfaces as
// [ErrConcurrencyConflict].
func (r *Repository[S]) WithTransaction(
	ctx context.Context,
	aggID string,
	fn func(a Aggregate[S]) (Aggregate[S], error),
	opts ...SaveOption,
) (Aggregate[S], error) {
	a, err := r.GetOrNew(ctx, aggID)
	if err != nil {
		return a, err
	}
	a, err = fn(a)
	if err != nil {
		return a, err
	}
	return r.Save(ctx, a, opts...)
}
