// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package settings

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces gptbot keys in a shared Redis database.
const redisKeyPrefix = "gptbot:"

// RedisStore is a Redis implementation of the [Store] interface.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to the Redis server described by url, for example
// "redis://localhost:6379/0".
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &RedisStore{rdb: rdb}, nil
}

// Get retrieves a value for a given key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

// Set stores a value for a given key. Settings never expire.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.rdb.Set(ctx, redisKeyPrefix+key, value, 0).Err()
}

// Ping checks the server connection.
func (s *RedisStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

// Close closes the client.
func (s *RedisStore) Close() error { return s.rdb.Close() }
