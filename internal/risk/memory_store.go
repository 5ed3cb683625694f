package risk

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory AuditStore for demo/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[string][]*Assessment // userID → newest last
}

// NewMemoryStore creates an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: make(map[string][]*Assessment),
	}
}

func (s *MemoryStore) Record(_ context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.assessments[a.UserID], a.Clone())
	if len(list) > MaxAuditEntriesPerUser {
		list = list[len(list)-MaxAuditEntriesPerUser:]
	}
	s.assessments[a.UserID] = list
	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.assessments[userID]
	if len(all) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}

	// Most recent first
	result := make([]*Assessment, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		result = append(result, all[i].Clone())
	}
	return result, nil
}
