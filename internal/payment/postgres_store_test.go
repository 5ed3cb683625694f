package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskgate/internal/testutil"
)

func TestPostgresAttemptLog(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	log := NewPostgresAttemptLog(db)
	require.NoError(t, log.Migrate(context.Background()))

	gw := &scriptedGateway{errs: []error{errors503()}}
	exec := NewExecutor(gw, log, nil)
	res, err := exec.Execute(context.Background(), testRequest(), RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond})
	require.NoError(t, err)

	attempts, err := log.ListByKey(context.Background(), "idem-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, OutcomeTransientFailure, attempts[0].Outcome)
	assert.Equal(t, OutcomeSuccess, attempts[1].Outcome)
	assert.Equal(t, res.TransactionID, attempts[1].TransactionID)
	assert.Equal(t, MethodCard, attempts[1].Method)

	again, err := exec.Execute(context.Background(), testRequest(), RetryPolicy{})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
}

func errors503() error {
	return &TransientError{Code: "503", Err: assert.AnError}
}
