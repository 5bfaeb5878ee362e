package persist

import (
	"context"
	"sync"
)

// StateStorage is a key-value backend for persisted state.
type StateStorage interface {
	// GetItem returns the stored text for name. found is false when nothing
	// was stored.
	GetItem(ctx context.Context, name string) (value string, found bool, err error)

	// SetItem stores value under name.
	SetItem(ctx context.Context, name, value string) error

	// RemoveItem deletes name. Removing a missing item is not an error.
	RemoveItem(ctx context.Context, name string) error
}

// StorageFunc resolves a storage backend lazily. It may fail, for example when
// the backing resource is not reachable; persistence is then disabled.
type StorageFunc func() (StateStorage, error)

// MemoryStorage is an in-memory StateStorage.
type MemoryStorage struct {
	items map[string]string
	mu    sync.RWMutex
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items: make(map[string]string),
	}
}

// GetItem implements StateStorage
func (m *MemoryStorage) GetItem(ctx context.Context, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.items[name]
	return v, ok, nil
}

// SetItem implements StateStorage
func (m *MemoryStorage) SetItem(ctx context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[name] = value
	return nil
}

// RemoveItem implements StateStorage
func (m *MemoryStorage) RemoveItem(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, name)
	return nil
}

// Len returns the number of stored items.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
