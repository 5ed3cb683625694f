package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskgate/internal/testutil"
)

func entry(user string, i int, amount int64, method string, status Status, at time.Time) Entry {
	return Entry{
		ID:       fmt.Sprintf("txh_%s_%d", user, i),
		UserID:   user,
		Amount:   amount,
		Currency: "jpy",
		Method:   method,
		Status:   status,
		At:       at,
	}
}

func TestSummarize(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		entry("u1", 1, 1000, "card", StatusSuccess, now.Add(-48*time.Hour)),
		entry("u1", 2, 3000, "paypal", StatusSuccess, now.Add(-2*time.Hour)),
		entry("u1", 3, 5000, "card", StatusSuccess, now.Add(-10*time.Minute)),
		entry("u1", 4, 90000, "card", StatusFailed, now.Add(-5*time.Minute)),
		entry("u2", 5, 70000, "card", StatusSuccess, now.Add(-5*time.Minute)),
	}

	sum := Summarize(entries, "u1", now)
	assert.Equal(t, 3, sum.Count)
	assert.Equal(t, int64(3000), sum.AverageAmount)
	assert.Equal(t, now.Add(-10*time.Minute), sum.LastAt)
	assert.Equal(t, []string{"card", "paypal"}, sum.Methods)
	assert.Equal(t, 1, sum.LastHourCount)
}

func TestSummarize_Empty(t *testing.T) {
	sum := Summarize(nil, "u1", time.Now())
	assert.Zero(t, sum.Count)
	assert.True(t, sum.LastAt.IsZero())
}

func storeContract(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	// Appended out of order on purpose.
	require.NoError(t, s.Append(ctx, entry("u1", 2, 200, "card", StatusSuccess, base.Add(-2*time.Hour))))
	require.NoError(t, s.Append(ctx, entry("u1", 1, 100, "card", StatusSuccess, base.Add(-30*time.Hour))))
	require.NoError(t, s.Append(ctx, entry("u1", 3, 300, "paypal", StatusFailed, base.Add(-time.Minute))))
	require.NoError(t, s.Append(ctx, entry("u2", 4, 400, "card", StatusSuccess, base.Add(-time.Minute))))

	got, err := s.Query(ctx, "u1", base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "txh_u1_2", got[0].ID, "oldest first")
	assert.Equal(t, "txh_u1_3", got[1].ID)
	assert.Equal(t, StatusFailed, got[1].Status)
	assert.True(t, got[0].At.Equal(base.Add(-2*time.Hour)))

	all, err := s.Query(ctx, "u1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := s.Query(ctx, "nobody", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_Retention(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Append(ctx, entry("u1", 1, 100, "card", StatusSuccess, now.Add(-40*24*time.Hour))))
	require.NoError(t, s.Append(ctx, entry("u1", 2, 100, "card", StatusSuccess, now)))

	got, _ := s.Query(ctx, "u1", time.Time{})
	require.Len(t, got, 1)
	assert.Equal(t, "txh_u1_2", got[0].ID)
}

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	storeContract(t, s)
}
