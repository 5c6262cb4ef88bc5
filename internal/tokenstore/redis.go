package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of redis.Cmdable used by RedisStore.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// NewRedisClient builds a go-redis client for addr.
func NewRedisClient(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, DB: db})
}

// RedisStore keeps keys in Redis under "lomi:<device>:<key>".
type RedisStore struct {
	client   redisClient
	deviceID string
}

// NewRedisStore constructs a store for deviceID.
func NewRedisStore(client redisClient, deviceID string) *RedisStore {
	return &RedisStore{client: client, deviceID: deviceID}
}

func (s *RedisStore) key(key string) string {
	return fmt.Sprintf("lomi:%s:%s", s.deviceID, key)
}

// Get returns the stored value for key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis store: get %s: %w", key, err)
	}
	return value, nil
}

// Set stores value under key without expiry; the refresh token's lifetime is
// enforced by the server.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis store: set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis store: del %s: %w", key, err)
	}
	return nil
}
