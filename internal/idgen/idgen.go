// Package idgen generates identifiers for assessments, challenge sessions
// and payment attempts.
package idgen

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// Prefixes used across the service so an id reveals what it names.
const (
	PrefixAssessment = "asm_"
	PrefixChallenge  = "chl_"
	PrefixAttempt    = "att_"
	PrefixHistory    = "txh_"
	PrefixReceipt    = "azr_"
)

// WithPrefix generates a random ID with a prefix (e.g. "chl_", "asm_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// IdempotencyKey returns a time-ordered UUID suitable for gateway
// deduplication. Falls back to a random v4 UUID if v7 generation fails.
func IdempotencyKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
