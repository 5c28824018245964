// Package cache holds the shared key/value store used for remote document
// caching and delivery de-duplication.
package cache

import (
	"context"
	"time"
)

// Store is safe for concurrent use. Set is last-write-wins, SetNX is the
// only at-most-once primitive.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}
