package nats

import (
	"context"
	"errors"
	"regexp"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/aggr-go/ports/kv"
)

type KvConfig struct {
	Connect Connector
	Bucket  string
}

// KvStore implements kv.Store on top of a JetStream key-value bucket.
type KvStore struct {
	kvb jetstream.KeyValue
}

func NewKvStore(cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, _, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}

	kvb, err := js.CreateOrUpdateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket:  cfg.Bucket,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		return nil, err
	}

	return &KvStore{kvb: kvb}, nil
}

// JetStream KV keys may not contain every character a caller uses, so
// anything outside the allowed set maps to "_".
var kvKeyReplacer = regexp.MustCompile(`[^-/_=.a-zA-Z0-9]`)

func kvKey(key string) string {
	return kvKeyReplacer.ReplaceAllString(key, "_")
}

func (k *KvStore) Put(ctx context.Context, key string, entry kv.Entry, _ kv.PutOptions) error {
	_, err := k.kvb.Put(ctx, kvKey(key), entry.Data)
	return err
}

func (k *KvStore) Get(ctx context.Context, key string) (entry kv.Entry, err error) {
	v, err := k.kvb.Get(ctx, kvKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return entry, kv.ErrNotFound
		}
		return entry, err
	}
	entry.Data = v.Value()
	return entry, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	return k.kvb.Delete(ctx, kvKey(key))
}

var _ kv.Store = (*KvStore)(nil)
