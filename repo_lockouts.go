package session

import (
	"context"
	"sync"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PinLockoutRecord tracks failed quick-login attempts for one username.
// It lives in device-local storage; the history holds hashes only, the
// PIN itself is never persisted or transmitted in plaintext.
type PinLockoutRecord struct {
	bun.BaseModel `bun:"table:pin_lockouts,alias:pin"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username      string     `bun:"username,notnull,unique" json:"username"`
	Attempts      int        `bun:"attempts,notnull" json:"attempts"`
	LockedUntil   *time.Time `bun:"locked_until,nullzero" json:"locked_until,omitempty"`
	History       []string   `bun:"history,type:jsonb" json:"history,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// IsLocked reports whether the lockout window is active at now.
func (r *PinLockoutRecord) IsLocked(now time.Time) bool {
	if r == nil || r.LockedUntil == nil {
		return false
	}
	return now.Before(*r.LockedUntil)
}

// Remaining returns how long the lockout window still runs at now.
func (r *PinLockoutRecord) Remaining(now time.Time) time.Duration {
	if !r.IsLocked(now) {
		return 0
	}
	return r.LockedUntil.Sub(now)
}

// LockoutStore persists PinLockoutRecords keyed by username. Absent
// usernames yield (nil, nil); records are created lazily on first write.
type LockoutStore interface {
	GetByUsername(ctx context.Context, username string) (*PinLockoutRecord, error)
	Save(ctx context.Context, record *PinLockoutRecord) (*PinLockoutRecord, error)
	DeleteByUsername(ctx context.Context, username string) error
}

// Lockouts exposes the full repository surface plus the LockoutStore
// convenience methods the PinPolicy needs.
type Lockouts interface {
	repository.Repository[*PinLockoutRecord]
	LockoutStore
}

type lockouts struct {
	repository.Repository[*PinLockoutRecord]
	db *bun.DB
}

var _ Lockouts = (*lockouts)(nil)
var _ repository.Repository[*PinLockoutRecord] = (*lockouts)(nil)

// NewLockoutsRepository builds the bun-backed lockout store. The table
// is created on demand via InitLockoutsTable.
func NewLockoutsRepository(db *bun.DB) Lockouts {
	repo := repository.NewRepository[*PinLockoutRecord](db, repository.ModelHandlers[*PinLockoutRecord]{
		NewRecord: func() *PinLockoutRecord {
			return &PinLockoutRecord{}
		},
		GetID: func(record *PinLockoutRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *PinLockoutRecord, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "username"
		},
	})

	return &lockouts{
		Repository: repo,
		db:         db,
	}
}

// InitLockoutsTable ensures the backing table exists.
func InitLockoutsTable(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().
		Model((*PinLockoutRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return wrapStorage(err, "failed to create pin_lockouts table")
	}
	return nil
}

func (l *lockouts) GetByUsername(ctx context.Context, username string) (*PinLockoutRecord, error) {
	record, err := l.GetByIdentifier(ctx, username)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, wrapStorage(err, "failed to read pin lockout record")
	}
	return record, nil
}

func (l *lockouts) Save(ctx context.Context, record *PinLockoutRecord) (*PinLockoutRecord, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	now := time.Now()
	record.UpdatedAt = &now

	saved, err := l.Upsert(ctx, record)
	if err != nil {
		return nil, wrapStorage(err, "failed to persist pin lockout record")
	}
	return saved, nil
}

func (l *lockouts) DeleteByUsername(ctx context.Context, username string) error {
	if _, err := l.db.NewDelete().
		Model((*PinLockoutRecord)(nil)).
		Where("username = ?", username).
		Exec(ctx); err != nil {
		return wrapStorage(err, "failed to delete pin lockout record")
	}
	return nil
}

// MemoryLockouts is an in-process LockoutStore for tests and ephemeral
// setups.
type MemoryLockouts struct {
	mu      sync.Mutex
	records map[string]*PinLockoutRecord
}

var _ LockoutStore = (*MemoryLockouts)(nil)

func NewMemoryLockouts() *MemoryLockouts {
	return &MemoryLockouts{records: map[string]*PinLockoutRecord{}}
}

func (m *MemoryLockouts) GetByUsername(ctx context.Context, username string) (*PinLockoutRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[username]
	if !ok {
		return nil, nil
	}
	out := *record
	out.History = append([]string(nil), record.History...)
	return &out, nil
}

func (m *MemoryLockouts) Save(ctx context.Context, record *PinLockoutRecord) (*PinLockoutRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	stored := *record
	stored.History = append([]string(nil), record.History...)
	m.records[record.Username] = &stored
	return record, nil
}

func (m *MemoryLockouts) DeleteByUsername(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, username)
	return nil
}
