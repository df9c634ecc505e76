// Package counter provides the shared counter store that rate-limit state
// lives in. The store may be local or remote; either way every mutation is
// a single atomic operation, so concurrent checks for the same identity
// never interleave mid-update, even across processes sharing one backend.
package counter

import (
	"context"
	"errors"
	"time"
)

// ErrNotInteger is returned by Increment when the key holds a value that
// cannot be parsed as a decimal integer.
var ErrNotInteger = errors.New("counter: value is not an integer")

// Store is the backend contract. Counter values are decimal ASCII so the
// same bytes round-trip through Get, Increment, and CompareAndSwap on both
// backends. Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves the value for key. Returns nil, nil if the key does
	// not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl of 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Increment atomically adds delta to the counter at key and returns
	// the new value. A missing or expired key starts from zero, and ttl
	// is applied only in that creation case; later increments never
	// extend the life of the key.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// CompareAndSwap installs next under key only if the current value
	// equals prev, refreshing ttl on success. A nil (or empty) prev means
	// the key must be absent. Returns false, nil when the comparison
	// loses; callers re-read and retry.
	CompareAndSwap(ctx context.Context, key string, prev, next []byte, ttl time.Duration) (bool, error)

	// Close releases backend resources.
	Close() error
}
