package ports

import (
	"context"
	"time"
)

// Store is the durable counter store shared by every relay request.
// Every mutating call must be atomic at the store level.
type Store interface {
	// Set stores value under key; a zero ttl keeps the key forever
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns core.ErrNotFound when the key is absent or expired
	Get(ctx context.Context, key string) (string, error)

	// Consume deletes key and reports whether it existed
	Consume(ctx context.Context, key string) (bool, error)

	// Incr adds one to an integer counter and returns the new value.
	// A non-zero ttl is applied only when the counter has no expiry yet.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// IncrByFloat adds delta to a float counter and returns the new value
	IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error)

	Close() error
}
