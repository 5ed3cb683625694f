package kvstore

import (
	"context"
	"sync"
	"time"
)

type memValue struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-memory Store for single-process deployments and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]memValue
	lists  map[string][]string
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memValue),
		lists:  make(map[string][]string),
		now:    time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return "", false, nil
	}
	if !v.expiresAt.IsZero() && !s.now().Before(v.expiresAt) {
		return "", false, nil
	}
	return v.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := memValue{value: value}
	if ttl > 0 {
		v.expiresAt = s.now().Add(ttl)
	}
	s.values[key] = v
	return nil
}

func (s *MemoryStore) Append(_ context.Context, key, value string, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append([]string{value}, s.lists[key]...)
	if max > 0 && len(list) > max {
		list = list[:max]
	}
	s.lists[key] = list
	return nil
}

func (s *MemoryStore) List(_ context.Context, key string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.lists[key]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}
