package session

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// Storage keys used by the coordinator. Exposed so host applications can
// purge or inspect them.
const (
	StorageKeyCredential = "auth:credential"
	StorageKeySnapshot   = "auth:session"
)

// ErrKeyNotFound is returned by Store.Get for absent keys.
var ErrKeyNotFound = goerrors.New("storage key not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// Store is a passive key-value persistence surface. It never makes
// decisions; writes are last-write-wins with no merge.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is an in-process Store. It backs the session-lifetime
// scope and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return "", ErrKeyNotFound.WithMetadata(map[string]any{"key": key})
	}
	return value, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// IsKeyNotFound checks for the absent-key condition from any Store
// implementation.
func IsKeyNotFound(err error) bool {
	return goerrors.IsNotFound(err)
}
