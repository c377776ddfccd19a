package store

import (
	"context"
	"fmt"

	"github.com/layer-3/paymaster/ports"
)

// Backend names accepted by Open.
const (
	BackendRedis  = "redis"
	BackendBolt   = "bbolt"
	BackendMemory = "memory"
)

// Options selects and configures a store backend.
type Options struct {
	Backend  string
	RedisURL string
	BoltPath string
}

// Open builds the store named by opts.Backend
func Open(ctx context.Context, opts Options) (ports.Store, error) {
	switch opts.Backend {
	case BackendRedis, "":
		client, err := DialRedis(ctx, opts.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(client), nil
	case BackendBolt:
		return OpenBoltStore(ctx, opts.BoltPath)
	case BackendMemory:
		return NewMemoryStore(ctx), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}
