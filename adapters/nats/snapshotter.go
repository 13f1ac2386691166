package nats

import (
	"github.com/codewandler/aggr-go/core/agg"
)

// NewSnapshotter creates a new jetstream key-value-store based snapshotter.
func NewSnapshotter(cfg KvConfig) (*agg.KeyValueSnapshotter, error) {
	store, err := NewKvStore(cfg)
	if err != nil {
		return nil, err
	}
	return agg.NewKeyValueSnapshotter(store), nil
}
