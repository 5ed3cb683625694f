package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskgate/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	require.NoError(t, store.Migrate(context.Background()))
	svc := NewService(store)

	loc := tokyo
	require.NoError(t, svc.Put(context.Background(), &Profile{
		UserID:             "user_pg",
		RegisteredLocation: &loc,
		Phone:              "+819012345678",
		PhoneVerified:      true,
	}))

	got, err := store.Get(context.Background(), "user_pg")
	require.NoError(t, err)
	require.NotNil(t, got.RegisteredLocation)
	assert.Equal(t, "JP", got.RegisteredLocation.Country)
	require.True(t, got.RegisteredLocation.HasCoordinates())
	assert.InDelta(t, 35.6762, *got.RegisteredLocation.Latitude, 1e-9)
	assert.Equal(t, "+819012345678", got.VerifiedPhone())

	require.NoError(t, svc.Put(context.Background(), &Profile{UserID: "user_pg", Email: "b@example.com", EmailVerified: true}))
	got, err = store.Get(context.Background(), "user_pg")
	require.NoError(t, err)
	assert.Nil(t, got.RegisteredLocation, "put replaces the whole profile")
	assert.Empty(t, got.VerifiedPhone())
	assert.Equal(t, "b@example.com", got.VerifiedEmail())

	_, err = store.Get(context.Background(), "user_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
