package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/paymaster/core"
	"github.com/layer-3/paymaster/ports"
)

// RedisStore is a Redis implementation of the Store interface
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store on top of an existing client
func NewRedisStore(client *redis.Client) ports.Store {
	return &RedisStore{
		client: client,
	}
}

// DialRedis parses redisURL and checks the connection
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: can't ping redis: %w", core.ErrStoreUnavailable, err)
	}

	return client, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: can't set %q: %w", core.ErrStoreUnavailable, key, err)
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: %q", core.ErrNotFound, key)
		}
		return "", fmt.Errorf("%w: can't get %q: %w", core.ErrStoreUnavailable, key, err)
	}

	return value, nil
}

func (s *RedisStore) Consume(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: can't delete %q: %w", core.ErrStoreUnavailable, key, err)
	}

	return n == 1, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		n, err := s.client.Incr(ctx, key).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: can't increment %q: %w", core.ErrStoreUnavailable, key, err)
		}
		return n, nil
	}

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: can't increment %q: %w", core.ErrStoreUnavailable, key, err)
	}

	return incr.Val(), nil
}

func (s *RedisStore) IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	if ttl <= 0 {
		v, err := s.client.IncrByFloat(ctx, key, delta).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: can't increment %q: %w", core.ErrStoreUnavailable, key, err)
		}
		return v, nil
	}

	var incr *redis.FloatCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.IncrByFloat(ctx, key, delta)
		pipe.ExpireNX(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: can't increment %q: %w", core.ErrStoreUnavailable, key, err)
	}

	return incr.Val(), nil
}

// Client returns the Redis client.
// The event publisher shares it with the store.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
