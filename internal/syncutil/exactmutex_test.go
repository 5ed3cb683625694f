package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExactMutex_IndependentKeys(t *testing.T) {
	m := NewExactMutex()
	unlockA, err := m.Lock(context.Background(), "user-a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	unlockB, err := m.Lock(ctx, "user-b")
	require.NoError(t, err, "a held key must not block another key")
	unlockB()
}

func TestExactMutex_SameKeyWaits(t *testing.T) {
	m := NewExactMutex()
	unlock, err := m.Lock(context.Background(), "user-a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "user-a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // idempotent
	again, err := m.Lock(context.Background(), "user-a")
	require.NoError(t, err)
	again()
	assert.Equal(t, 0, m.Len())
}

func TestExactMutex_MutualExclusion(t *testing.T) {
	m := NewExactMutex()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background(), "k")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, m.Len())
}
