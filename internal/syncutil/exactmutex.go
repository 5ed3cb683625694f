package syncutil

import (
	"context"
	"sync"
)

// ExactMutex locks distinct keys independently, with no shard sharing. Use
// it where a lock may be held for minutes (a user waiting on a challenge)
// and an unrelated key must never queue behind it. Entries are dropped once
// nobody holds or waits on them.
type ExactMutex struct {
	mu    sync.Mutex
	locks map[string]*exactEntry
}

type exactEntry struct {
	ch   chan struct{}
	refs int
}

// NewExactMutex creates an empty ExactMutex.
func NewExactMutex() *ExactMutex {
	return &ExactMutex{locks: make(map[string]*exactEntry)}
}

// Lock acquires key, waiting until it is free or ctx is done. On success the
// caller MUST call the returned unlock function exactly once.
func (m *ExactMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &exactEntry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case <-e.ch:
		var once sync.Once
		return func() {
			once.Do(func() {
				e.ch <- struct{}{}
				m.release(key, e)
			})
		}, nil
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}
}

// Len returns the number of keys currently held or awaited.
func (m *ExactMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *ExactMutex) release(key string, e *exactEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 && m.locks[key] == e {
		delete(m.locks, key)
	}
}
