package payment

import (
	"context"
	"sync"
)

// MemoryAttemptLog keeps attempts in memory.
type MemoryAttemptLog struct {
	mu    sync.RWMutex
	byKey map[string][]*Attempt
}

// NewMemoryAttemptLog creates an empty in-memory attempt log.
func NewMemoryAttemptLog() *MemoryAttemptLog {
	return &MemoryAttemptLog{byKey: make(map[string][]*Attempt)}
}

func (l *MemoryAttemptLog) Record(_ context.Context, a *Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *a
	l.byKey[a.IdempotencyKey] = append(l.byKey[a.IdempotencyKey], &cp)
	return nil
}

func (l *MemoryAttemptLog) ListByKey(_ context.Context, idempotencyKey string) ([]*Attempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	src := l.byKey[idempotencyKey]
	out := make([]*Attempt, len(src))
	for i, a := range src {
		cp := *a
		out[i] = &cp
	}
	return out, nil
}
