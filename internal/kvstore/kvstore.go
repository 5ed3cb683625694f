// Package kvstore is the injected key-value store behind device ids and
// capped per-user audit lists. Memory and Redis implementations are provided.
package kvstore

import (
	"context"
	"time"
)

// Store is a minimal key-value store with capped lists.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Append pushes value to the front of the list at key and trims the
	// list to its newest max entries.
	Append(ctx context.Context, key, value string, max int) error
	// List returns up to limit list entries, newest first.
	List(ctx context.Context, key string, limit int) ([]string, error)
}
