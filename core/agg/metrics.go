package agg

import "github.com/codewandler/aggr-go/core/metrics"

// AggMetrics defines the metrics surface for the persistence collaborators
// (store, repository, snapshots, consumers). The reducer itself is pure
// and carries no instrumentation. All methods return Timer or increment
// counters; implementations should be thread-safe.
type AggMetrics interface {
	// Store operations
	StoreLoadDuration(aggType string) metrics.Timer
	StoreAppendDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)

	// Repository operations
	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer
	ConcurrencyConflict(aggType string)

	// Cache
	CacheHit(aggType string)
	CacheMiss(aggType string)

	// Snapshots
	SnapshotLoadDuration(aggType string) metrics.Timer
	SnapshotSaveDuration(aggType string) metrics.Timer

	// Consumer
	ConsumerEventDuration(tag string, live bool) metrics.Timer
	ConsumerEventProcessed(tag string, live bool, success bool)
	ConsumerLag(consumer string, lag int64)
}

// nopAggMetrics is a no-op implementation of AggMetrics.
type nopAggMetrics struct{}

func (nopAggMetrics) StoreLoadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopAggMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopAggMetrics) EventsAppended(string, int)               {}

func (nopAggMetrics) RepoLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopAggMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopAggMetrics) ConcurrencyConflict(string)            {}

func (nopAggMetrics) CacheHit(string)  {}
func (nopAggMetrics) CacheMiss(string) {}

func (nopAggMetrics) SnapshotLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopAggMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }

func (nopAggMetrics) ConsumerEventDuration(string, bool) metrics.Timer { return metrics.NopTimer() }
func (nopAggMetrics) ConsumerEventProcessed(string, bool, bool)        {}
func (nopAggMetrics) ConsumerLag(string, int64)                        {}

// NopAggMetrics returns a no-op AggMetrics implementation.
func NopAggMetrics() AggMetrics { return nopAggMetrics{} }

// AggMetricsOption sets the metrics for store/repository/consumer components.
type AggMetricsOption struct{ m AggMetrics }

// WithMetrics sets the metrics implementation.
func WithMetrics(m AggMetrics) AggMetricsOption { return AggMetricsOption{m: m} }

func (o AggMetricsOption) applyToEnv(e *envOptions)            { e.metrics = o.m }
func (o AggMetricsOption) applyToRepository(r *repoOpts)       { r.metrics = o.m }
func (o AggMetricsOption) applyToConsumerOpts(c *consumerOpts) { c.metrics = o.m }
