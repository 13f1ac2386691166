package agg

import (
	"github.com/codewandler/aggr-go/core/cache"
)

type (
	valueOption[T any] struct{ v T }
	MultiOption[T any] struct{ opts []T }

	repoOpts struct {
		snapshotter Snapshotter
		cache       cache.Cache
		idGenerator IDGenerator
		metrics     AggMetrics
	}

	repoSaveOptions struct {
		snapshot bool
		useCache bool
	}

	repoLoadOptions struct {
		snapshot bool
		useCache bool
	}
)

type (
	RepositoryOption      interface{ applyToRepository(*repoOpts) }
	SaveOption            interface{ applyToSaveOptions(*repoSaveOptions) }
	LoadOption            interface{ applyToLoadOptions(*repoLoadOptions) }
	SnapshotOption        valueOption[bool]
	SnapshotterOption     valueOption[Snapshotter]
	RepoCacheOption       valueOption[cache.Cache]
	RepoUseCacheOption    valueOption[bool]
	RepoIDGeneratorOption valueOption[IDGenerator]
)

// WithSnapshot enables the snapshot fast-path on load, or snapshot
// creation after save.
func WithSnapshot(v bool) SnapshotOption { return SnapshotOption{v: v} }

// WithSnapshotter sets the snapshotter used by the repository (and by the
// environment).
func WithSnapshotter(s Snapshotter) SnapshotterOption { return SnapshotterOption{v: s} }

// WithRepoCache sets the cache holding the most recent clean snapshot per
// aggregate id.
func WithRepoCache(c cache.Cache) RepoCacheOption { return RepoCacheOption{v: c} }

// WithRepoCacheLRU is shorthand for an LRU-backed repository cache.
func WithRepoCacheLRU(size int) RepoCacheOption {
	return WithRepoCache(cache.NewLRU(cache.LRUOpts{Size: size}))
}

// WithUseCache toggles cache usage per load/save call. Defaults to true.
func WithUseCache(useCache bool) RepoUseCacheOption { return RepoUseCacheOption{v: useCache} }

// WithIDGenerator sets a custom ID generator for event envelope IDs.
func WithIDGenerator(gen IDGenerator) RepoIDGeneratorOption {
	return RepoIDGeneratorOption{v: gen}
}

// === repo ===

func (o SnapshotterOption) applyToRepository(options *repoOpts)     { options.snapshotter = o.v }
func (o RepoCacheOption) applyToRepository(options *repoOpts)       { options.cache = o.v }
func (o RepoIDGeneratorOption) applyToRepository(options *repoOpts) { options.idGenerator = o.v }

func newRepoOpts(opts ...RepositoryOption) repoOpts {
	options := repoOpts{
		cache:       cache.NewNop(),
		snapshotter: NewInMemorySnapshotter(),
		idGenerator: DefaultIDGenerator(),
		metrics:     NopAggMetrics(),
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	return options
}

// === save ===

func (o SnapshotOption) applyToSaveOptions(options *repoSaveOptions)     { options.snapshot = o.v }
func (o RepoUseCacheOption) applyToSaveOptions(options *repoSaveOptions) { options.useCache = o.v }

func newSaveOptions(opts ...SaveOption) repoSaveOptions {
	options := repoSaveOptions{useCache: true}
	for _, opt := range opts {
		opt.applyToSaveOptions(&options)
	}
	return options
}

// === load ===

func (o SnapshotOption) applyToLoadOptions(options *repoLoadOptions)     { options.snapshot = o.v }
func (o RepoUseCacheOption) applyToLoadOptions(options *repoLoadOptions) { options.useCache = o.v }

func newLoadOptions(opts ...LoadOption) repoLoadOptions {
	options := repoLoadOptions{useCache: true}
	for _, opt := range opts {
		opt.applyToLoadOptions(&options)
	}
	return options
}
