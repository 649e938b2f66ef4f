// Package cache provides the short-lived response cache in front of search.
// Values are opaque byte slices; expiry is per entry.
package cache

import (
	"context"
	"time"
)

// Cache stores values for a bounded time. Implementations must be safe for
// concurrent use. Get reports a miss for expired entries and on backend
// errors, so a failing cache degrades to no cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
}
