package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for demo/test use. Entries older than
// the retention window are pruned on append.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string][]Entry // userID → sorted by At
	retention time.Duration
}

// NewMemoryStore creates an in-memory store keeping 30 days of history.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string][]Entry),
		retention: 30 * 24 * time.Hour,
	}
}

func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[e.UserID]
	i := sort.Search(len(list), func(i int) bool { return list[i].At.After(e.At) })
	list = append(list, Entry{})
	copy(list[i+1:], list[i:])
	list[i] = e

	cutoff := list[len(list)-1].At.Add(-s.retention)
	drop := sort.Search(len(list), func(i int) bool { return !list[i].At.Before(cutoff) })
	s.entries[e.UserID] = list[drop:]
	return nil
}

func (s *MemoryStore) Query(_ context.Context, userID string, since time.Time) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.entries[userID]
	start := sort.Search(len(list), func(i int) bool { return !list[i].At.Before(since) })
	out := make([]Entry, len(list)-start)
	copy(out, list[start:])
	return out, nil
}
