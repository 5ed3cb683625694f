package profile

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory profile store for development mode.
type MemoryStore struct {
	profiles map[string]*Profile
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (m *MemoryStore) Put(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = clone(p)
	return nil
}

func clone(p *Profile) *Profile {
	cp := *p
	if p.RegisteredLocation != nil {
		loc := *p.RegisteredLocation
		cp.RegisteredLocation = &loc
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
