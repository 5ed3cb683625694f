package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxRetries int) Policy {
	return Policy{MaxRetries: maxRetries, BaseDelay: time.Millisecond, Backoff: Linear}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastPolicy(3), func(int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessOnRetry(t *testing.T) {
	var seen []int
	err := Do(context.Background(), fastPolicy(3), func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestDo_AllAttemptsExhausted(t *testing.T) {
	var calls int
	sentinel := errors.New("always fails")
	err := Do(context.Background(), fastPolicy(2), func(int) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls, "MaxRetries=2 means three attempts in total")
}

func TestDo_PermanentErrorStopsRetry(t *testing.T) {
	var calls int
	sentinel := errors.New("permanent failure")
	err := Do(context.Background(), fastPolicy(5), func(int) error {
		calls++
		return Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	var pe *PermanentError
	assert.False(t, errors.As(err, &pe), "permanent wrapper should be removed")
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	p := Policy{MaxRetries: 5, BaseDelay: time.Hour}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, p, func(int) error {
		calls.Add(1)
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_NegativeRetriesRunsOnce(t *testing.T) {
	var calls int
	_ = Do(context.Background(), Policy{MaxRetries: -4}, func(int) error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}

func TestLinearBackoff(t *testing.T) {
	assert.Equal(t, time.Duration(0), Linear(0, time.Second))
	assert.Equal(t, time.Second, Linear(1, time.Second))
	assert.Equal(t, 3*time.Second, Linear(3, time.Second))
}

func TestExponentialBackoffWithinJitter(t *testing.T) {
	for attempt := 1; attempt <= 4; attempt++ {
		want := 100 * time.Millisecond << (attempt - 1)
		got := Exponential(attempt, 100*time.Millisecond)
		assert.GreaterOrEqual(t, got, want-want/4)
		assert.LessOrEqual(t, got, want+want/4)
	}
}

func TestPolicyDelayDefaultsToLinear(t *testing.T) {
	p := Policy{BaseDelay: 2 * time.Second}
	assert.Equal(t, 4*time.Second, p.Delay(2))
}

func TestByName(t *testing.T) {
	b, ok := ByName("exponential")
	require.True(t, ok)
	assert.GreaterOrEqual(t, b(3, time.Second), 3*time.Second)

	b, ok = ByName("linear")
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, b(2, time.Second))

	b, ok = ByName("fibonacci")
	assert.False(t, ok)
	assert.Equal(t, 2*time.Second, b(2, time.Second))
}
