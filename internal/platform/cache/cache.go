package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key was never set, was deleted, or has expired
	ErrNotFound = errors.New("cache: key not found")

	// ErrUnavailable wraps transport or storage failures of the backing store.
	// Callers on the read path treat it as a miss.
	ErrUnavailable = errors.New("cache: store unavailable")
)

// NoExpiration stores an entry that never expires.
const NoExpiration time.Duration = 0

// Store is a key/value store with per-entry expiration.
// Values are opaque serialized records.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any prior entry.
	// A ttl <= 0 means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the underlying connection
	Close() error
}

// Pinger is implemented by stores backed by a network service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IsMiss reports whether err should be treated as a cache miss on the read path.
func IsMiss(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable)
}
