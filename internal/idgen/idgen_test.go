package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix(PrefixChallenge)
	assert.True(t, strings.HasPrefix(id, "chl_"))
	assert.Len(t, id, len("chl_")+24)
	assert.NotEqual(t, id, WithPrefix(PrefixChallenge))
}

func TestIdempotencyKeyIsUUIDv7(t *testing.T) {
	key := IdempotencyKey()
	parsed, err := uuid.Parse(key)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestHexLength(t *testing.T) {
	assert.Len(t, Hex(8), 16)
}
