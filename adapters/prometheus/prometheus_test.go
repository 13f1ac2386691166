package prometheus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAggMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAggMetrics(reg)

	require.NotNil(t, m)

	// Test store operations
	timer := m.StoreLoadDuration("counter")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.StoreAppendDuration("counter")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.EventsAppended("counter", 5)

	// Test repository operations
	timer = m.RepoLoadDuration("counter")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.RepoSaveDuration("counter")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.ConcurrencyConflict("counter")

	// Test cache
	m.CacheHit("counter")
	m.CacheMiss("counter")

	// Test snapshots
	timer = m.SnapshotLoadDuration("counter")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	timer = m.SnapshotSaveDuration("counter")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	// Test consumer
	timer = m.ConsumerEventDuration("increment", true)
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.ConsumerEventProcessed("increment", true, true)
	m.ConsumerEventProcessed("increment", false, false)

	m.ConsumerLag("my-consumer", 100)

	// Verify metrics were registered
	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	// Check that we have the expected metric families
	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	assert.True(t, names["aggr_store_load_duration_seconds"])
	assert.True(t, names["aggr_repo_load_duration_seconds"])
	assert.True(t, names["aggr_cache_hits_total"])
	assert.True(t, names["aggr_consumer_lag"])
}

func TestBoolToStr(t *testing.T) {
	assert.Equal(t, "true", boolToStr(true))
	assert.Equal(t, "false", boolToStr(false))
}
