package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// KVEntry is a single device-scoped key-value row.
type KVEntry struct {
	bun.BaseModel `bun:"table:kv_entries,alias:kv"`
	Key           string    `bun:"key,pk" json:"key"`
	Value         string    `bun:"value,notnull" json:"value"`
	UpdatedAt     time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// BunStore is the durable Store used for the device scope (credential,
// PIN lockout records). Writes are last-write-wins.
type BunStore struct {
	db  *bun.DB
	now Clock
}

var _ Store = (*BunStore)(nil)

// NewBunStore wraps an existing bun handle. Call Init once to ensure the
// backing table exists.
func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{db: db, now: time.Now}
}

// OpenSQLite opens a device-local SQLite database and returns a ready
// store. Use ":memory:" for throwaway instances.
func OpenSQLite(ctx context.Context, dsn string) (*BunStore, error) {
	db, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, wrapStorage(err, "failed to open sqlite database")
	}
	db.SetMaxOpenConns(1)

	store := NewBunStore(bun.NewDB(db, sqlitedialect.New()))
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Init creates the backing table when missing.
func (s *BunStore) Init(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().
		Model((*KVEntry)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return wrapStorage(err, "failed to create kv table")
	}
	return nil
}

// DB exposes the underlying handle so hosts can share it with other
// repositories (see NewLockoutsRepository).
func (s *BunStore) DB() *bun.DB {
	return s.db
}

func (s *BunStore) Get(ctx context.Context, key string) (string, error) {
	entry := &KVEntry{}
	err := s.db.NewSelect().
		Model(entry).
		Where("key = ?", key).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrKeyNotFound.WithMetadata(map[string]any{"key": key})
		}
		return "", wrapStorage(err, "failed to read kv entry")
	}
	return entry.Value, nil
}

func (s *BunStore) Set(ctx context.Context, key, value string) error {
	entry := &KVEntry{
		Key:       key,
		Value:     value,
		UpdatedAt: s.now(),
	}

	_, err := s.db.NewInsert().
		Model(entry).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return wrapStorage(err, "failed to write kv entry")
	}
	return nil
}

func (s *BunStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		Model((*KVEntry)(nil)).
		Where("key = ?", key).
		Exec(ctx)
	if err != nil {
		return wrapStorage(err, "failed to delete kv entry")
	}
	return nil
}
