// Package sqlite provides a SQLite-backed event store and snapshotter,
// suitable for single-process deployments and durable local development.
// Live subscriptions are not supported; pair it with the in-memory store or
// NATS when consumers are needed.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codewandler/aggr-go/core/agg"
)

var ErrSubscribeUnsupported = errors.New("sqlite store does not support subscriptions")

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT    NOT NULL UNIQUE,
	aggregate_type TEXT    NOT NULL,
	aggregate_id   TEXT    NOT NULL,
	version        INTEGER NOT NULL,
	tag            TEXT    NOT NULL,
	key            TEXT    NOT NULL DEFAULT '',
	occurred_at    INTEGER NOT NULL,
	data           BLOB    NOT NULL,
	UNIQUE (aggregate_type, aggregate_id, version)
);

CREATE INDEX IF NOT EXISTS idx_events_aggregate
	ON events (aggregate_type, aggregate_id, version);

CREATE TABLE IF NOT EXISTS snapshots (
	obj_type       TEXT    NOT NULL,
	obj_id         TEXT    NOT NULL,
	snapshot_id    TEXT    NOT NULL,
	obj_version    INTEGER NOT NULL,
	stream_seq     INTEGER NOT NULL,
	created_at     INTEGER NOT NULL,
	schema_version INTEGER NOT NULL,
	encoding       TEXT    NOT NULL,
	data           BLOB    NOT NULL,
	PRIMARY KEY (obj_type, obj_id)
);
`

// Store is a SQLite-backed agg.EventStore and agg.Snapshotter.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (or creates) a SQLite store at the provided path.
// Use ":memory:" for an in-process throwaway database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	// modernc's driver takes pragmas via repeated _pragma=name(value)
	// parameters
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) +
			"?_pragma=journal_mode(WAL)" +
			"&_pragma=foreign_keys(ON)" +
			"&_pragma=busy_timeout(5000)" +
			"&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying SQLite database. Close is nil-safe so callers
// can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Subscribe(_ context.Context, _ ...agg.SubscribeOption) (agg.Subscription, error) {
	return nil, ErrSubscribeUnsupported
}

func (s *Store) Load(
	ctx context.Context,
	aggType string,
	aggID string,
	opts ...agg.StoreLoadOption,
) ([]agg.Envelope, error) {
	if aggType == "" {
		return nil, errors.New("aggregate type is empty")
	}
	if aggID == "" {
		return nil, errors.New("aggregate id is empty")
	}

	loadOpts := &storeLoadOptions{}
	for _, opt := range opts {
		opt.ApplyToStoreLoadOptions(loadOpts)
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT seq, id, version, tag, key, occurred_at, data
		FROM events
		WHERE aggregate_type = ? AND aggregate_id = ? AND version >= ? AND seq >= ?
		ORDER BY version ASC`,
		aggType, aggID, uint64(loadOpts.startVersion), loadOpts.startSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var envelopes []agg.Envelope
	for rows.Next() {
		var (
			env        agg.Envelope
			version    uint64
			occurredAt int64
		)
		if err := rows.Scan(&env.Seq, &env.ID, &version, &env.Tag, &env.Key, &occurredAt, &env.Data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		env.Version = agg.Version(version)
		env.AggregateType = aggType
		env.AggregateID = aggID
		env.OccurredAt = time.UnixMilli(occurredAt).UTC()
		envelopes = append(envelopes, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if len(envelopes) == 0 {
		return nil, fmt.Errorf("%w: %s %s", agg.ErrAggregateNotFound, aggType, aggID)
	}

	return envelopes, nil
}

func (s *Store) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expectedVersion agg.Version,
	events []agg.Envelope,
) (*agg.StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, nil
	}
	if aggType == "" {
		return nil, errors.New("aggregate type is empty")
	}
	if aggID == "" {
		return nil, errors.New("aggregate id is empty")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current uint64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_type = ? AND aggregate_id = ?`,
		aggType, aggID,
	).Scan(&current)
	if err != nil {
		return nil, fmt.Errorf("read current version: %w", err)
	}
	if agg.Version(current) != expectedVersion {
		return nil, fmt.Errorf("%w: expected version %d, got %d (%s %s)", agg.ErrConcurrencyConflict, expectedVersion, current, aggType, aggID)
	}

	var lastSeq uint64
	for _, env := range events {
		if err := env.Validate(); err != nil {
			return nil, fmt.Errorf("failed to validate event: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, aggregate_type, aggregate_id, version, tag, key, occurred_at, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			env.ID, aggType, env.AggregateID, uint64(env.Version), env.Tag, env.Key,
			env.OccurredAt.UTC().UnixMilli(), []byte(env.Data),
		)
		if err != nil {
			return nil, fmt.Errorf("insert event %s: %w", env.ID, err)
		}

		seq, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("read insert id: %w", err)
		}
		lastSeq = uint64(seq)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &agg.StoreAppendResult{LastSeq: lastSeq}, nil
}

// === Snapshotter ===

func (s *Store) SaveSnapshot(ctx context.Context, snapshot *agg.Snapshot) error {
	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO snapshots (obj_type, obj_id, snapshot_id, obj_version, stream_seq, created_at, schema_version, encoding, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (obj_type, obj_id) DO UPDATE SET
			snapshot_id    = excluded.snapshot_id,
			obj_version    = excluded.obj_version,
			stream_seq     = excluded.stream_seq,
			created_at     = excluded.created_at,
			schema_version = excluded.schema_version,
			encoding       = excluded.encoding,
			data           = excluded.data`,
		snapshot.ObjType, snapshot.ObjID, snapshot.SnapshotID, uint64(snapshot.ObjVersion),
		snapshot.StreamSeq, snapshot.CreatedAt.UTC().UnixMilli(), snapshot.SchemaVersion,
		snapshot.Encoding, snapshot.Data,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context, objType, objID string) (*agg.Snapshot, error) {
	var (
		ss        agg.Snapshot
		version   uint64
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
		SELECT snapshot_id, obj_version, stream_seq, created_at, schema_version, encoding, data
		FROM snapshots
		WHERE obj_type = ? AND obj_id = ?`,
		objType, objID,
	).Scan(&ss.SnapshotID, &version, &ss.StreamSeq, &createdAt, &ss.SchemaVersion, &ss.Encoding, &ss.Data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, agg.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	ss.ObjType = objType
	ss.ObjID = objID
	ss.ObjVersion = agg.Version(version)
	ss.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &ss, nil
}

type storeLoadOptions struct {
	startVersion agg.Version
	startSeq     uint64
}

func (l *storeLoadOptions) SetStartVersion(i agg.Version) { l.startVersion = i }
func (l *storeLoadOptions) SetStartSeq(i uint64)          { l.startSeq = i }

var (
	_ agg.EventStore  = (*Store)(nil)
	_ agg.Snapshotter = (*Store)(nil)
)
