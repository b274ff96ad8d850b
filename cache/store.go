package cache

import (
	"context"
	"time"
)

// Store is the backing storage of the caching decorator. Implementations expire entries
// after their TTL and must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key. A missing or expired entry reports false.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
