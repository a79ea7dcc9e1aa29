// Package store provides the shared state store used for presence sets
// and file locks. All mutation goes through the store's atomic primitives
// because multiple server instances may run against the same store.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// Store is a key/value store with atomic conditional-set, key expiry, and
// set-membership primitives.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set unconditionally writes key with the given TTL (0 = no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes key only if it does not exist, attaching the TTL in the
	// same atomic operation. Returns true if the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Del removes a key. Removing an absent key is not an error.
	Del(ctx context.Context, key string) error

	// SAdd adds a member to a set.
	SAdd(ctx context.Context, key, member string) error

	// SRem removes a member from a set. Removing an absent member is a no-op.
	SRem(ctx context.Context, key, member string) error

	// SMembers returns all members of a set. An absent set is empty.
	SMembers(ctx context.Context, key string) ([]string, error)

	// SIsMember reports whether member is in the set.
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
