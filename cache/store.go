// Package cache provides the key/value stores behind the tile client and the
// key scheme used to lay out partition, data and index records.
//
// Values are opaque byte slices. A Store that also implements Protector can
// exempt keys from time-based expiry; protected entries stay readable until
// released or removed explicitly.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("cache: store closed")

	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("cache: invalid key")
)

// NoExpiry is the ttl for entries that never expire.
const NoExpiry time.Duration = 0

// Store is a key/value cache with per-entry expiry.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key. Expired entries are a miss.
	// Returned slices must be treated as read-only.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Put stores value under key. A ttl <= 0 never expires.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Contains reports whether a live entry exists for key.
	Contains(ctx context.Context, key string) bool

	// RemoveKeysWithPrefix removes every entry whose key starts with prefix.
	RemoveKeysWithPrefix(ctx context.Context, prefix string) error
}

// Protector is implemented by stores that can pin entries.
type Protector interface {
	// Protect exempts keys from expiry and eviction. Keys that are not yet
	// stored are protected once written.
	Protect(keys ...string)

	// Release drops protection. Entries whose expiry has passed become
	// invisible immediately.
	Release(keys ...string)

	// IsProtected reports whether key is protected.
	IsProtected(key string) bool
}

// Stats are cumulative counters of a store.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
	Pinned  int
}

func expiryAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(now, expiresAt time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
