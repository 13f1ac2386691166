package agg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/aggr-go/ports/kv"
)

var (
	ErrSnapshotterUnconfigured = errors.New("no snapshotter configured")
	ErrSnapshotNotFound        = errors.New("snapshot not found")
)

type (
	Snapshot struct {
		SnapshotID string `json:"snapshot_id"` // SnapshotID is the unique ID of the snapshot

		ObjID      string  `json:"obj_id"`      // ObjID is the ID of the object that was snapshotted
		ObjType    string  `json:"obj_type"`    // ObjType is the type of the object that was snapshotted
		ObjVersion Version `json:"obj_version"` // ObjVersion is the version of the object at the time of snapshot

		StreamSeq uint64 `json:"stream_seq"` // StreamSeq is the global sequence number from the store

		CreatedAt     time.Time `json:"created_at"`
		SchemaVersion int       `json:"schema_version"`
		Encoding      string    `json:"encoding"`
		Data          []byte    `json:"data"`
	}

	Snapshotter interface {
		SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
		LoadSnapshot(ctx context.Context, objType, objID string) (*Snapshot, error)
	}
)

func (s *Snapshot) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("id", s.SnapshotID),
		slog.String("obj_type", s.ObjType),
		slog.String("obj_id", s.ObjID),
		s.ObjVersion.SlogAttrWithKey("obj_version"),
		slog.Uint64("seq", s.StreamSeq),
		slog.Time("created_at", s.CreatedAt),
		slog.Int("size", len(s.Data)),
	)
}

// SnapshotAggregate captures a's folded state as a snapshot record.
// Uncommitted changes are deliberately excluded: snapshots record durably
// committed state only, so a must be clean.
func SnapshotAggregate[S any](a Aggregate[S], aggType string, streamSeq uint64) (*Snapshot, error) {
	if a.Dirty() {
		return nil, fmt.Errorf("refusing to snapshot aggregate %s with uncommitted changes", a.ID)
	}
	data, err := json.Marshal(a.State)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot state: %w", err)
	}
	return &Snapshot{
		SnapshotID:    gonanoid.Must(),
		StreamSeq:     streamSeq,
		ObjID:         a.ID,
		ObjType:       aggType,
		ObjVersion:    a.Version,
		CreatedAt:     time.Now(),
		Encoding:      "json",
		Data:          data,
		SchemaVersion: 1,
	}, nil
}

// RestoreAggregate reconstructs a clean aggregate snapshot from ss.
func RestoreAggregate[S any](ss *Snapshot) (Aggregate[S], error) {
	a := Aggregate[S]{ID: ss.ObjID, Version: ss.ObjVersion}
	if len(ss.Data) > 0 && string(ss.Data) != "null" {
		var state S
		if err := json.Unmarshal(ss.Data, &state); err != nil {
			return a, fmt.Errorf("failed to restore snapshot state: %w", err)
		}
		a.State = &state
	}
	return a, nil
}

// === In-Memory Snapshotter ===

type InMemorySnapshotter struct {
	mu        sync.Mutex
	log       *slog.Logger
	snapshots map[string]*Snapshot
}

func NewInMemorySnapshotter() *InMemorySnapshotter {
	return &InMemorySnapshotter{
		log:       slog.Default().With(slog.String("snapshotter", "memory")),
		snapshots: map[string]*Snapshot{},
	}
}

func (i *InMemorySnapshotter) SaveSnapshot(_ context.Context, snapshot *Snapshot) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	sk := fmt.Sprintf("%s-%s", snapshot.ObjType, snapshot.ObjID)
	i.snapshots[sk] = snapshot
	return nil
}

func (i *InMemorySnapshotter) LoadSnapshot(_ context.Context, objType, objID string) (*Snapshot, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	sk := fmt.Sprintf("%s-%s", objType, objID)
	s, ok := i.snapshots[sk]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return s, nil
}

var _ Snapshotter = (*InMemorySnapshotter)(nil)

// === Key-Value Snapshotter ===

// KeyValueSnapshotter persists snapshots in any kv.Store (NATS KV via
// adapters/nats, or kv.MemStore for tests).
type KeyValueSnapshotter struct {
	store kv.Store
}

func NewKeyValueSnapshotter(store kv.Store) *KeyValueSnapshotter {
	return &KeyValueSnapshotter{store: store}
}

func (k *KeyValueSnapshotter) key(objType, objID string) string {
	return fmt.Sprintf("snapshot.%s.%s", objType, objID)
}

func (k *KeyValueSnapshotter) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	return kv.Put(ctx, k.store, k.key(snapshot.ObjType, snapshot.ObjID), snapshot, kv.PutOptions{})
}

func (k *KeyValueSnapshotter) LoadSnapshot(ctx context.Context, objType, objID string) (*Snapshot, error) {
	s, err := kv.Get[Snapshot](ctx, k.store, k.key(objType, objID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return &s, nil
}

var _ Snapshotter = (*KeyValueSnapshotter)(nil)
