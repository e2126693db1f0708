package lockstore

import (
	"context"
	"errors"
	"time"
)

// TTL sentinels, matching Redis semantics.
const (
	// TTLNone means the key exists but has no expiry
	TTLNone time.Duration = -1
	// TTLMissing means the key does not exist
	TTLMissing time.Duration = -2
)

// ErrKeyNotFound is returned by Get for an absent key
var ErrKeyNotFound = errors.New("key not found")

// Store is a per-key linearizable key-value primitive with TTLs and atomic
// counters. All seat locks and Tatkal inventory counters live behind it.
type Store interface {
	// SetIfAbsent sets key to value with the given TTL only if the key does
	// not exist. Returns true if the value was set.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value for key, or ErrKeyNotFound
	Get(ctx context.Context, key string) (string, error)

	// Expire resets the TTL of key. Returns false if the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteIfEquals removes key only if its current value equals expected.
	// The comparison and delete are atomic. Returns true if deleted.
	DeleteIfEquals(ctx context.Context, key, expected string) (bool, error)

	// Set unconditionally sets key to value; ttl of zero means no expiry
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Incr atomically increments the integer at key, creating it at 0 first
	Incr(ctx context.Context, key string) (int64, error)

	// Decr atomically decrements the integer at key, creating it at 0 first
	Decr(ctx context.Context, key string) (int64, error)

	// Scan returns all keys with the given prefix
	Scan(ctx context.Context, prefix string) ([]string, error)

	// TTL returns the remaining TTL of key, TTLNone if the key has no
	// expiry, or TTLMissing if the key does not exist
	TTL(ctx context.Context, key string) (time.Duration, error)
}
