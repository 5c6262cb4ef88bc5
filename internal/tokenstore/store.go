// Package tokenstore persists the device's auth tokens and cached user record
// so a session survives process restarts.
package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/lomi/client/internal/config"
)

// Persisted keys. The set is fixed; stores never see any other key.
const (
	KeyAccessToken  = "lomi_access_token"
	KeyRefreshToken = "lomi_refresh_token"
	KeyUser         = "lomi_user"
)

var (
	// ErrKeyNotFound indicates the key has never been written or was removed.
	ErrKeyNotFound = errors.New("token store: key not found")
	// ErrUnknownDriver indicates the configured backend does not exist.
	ErrUnknownDriver = errors.New("token store: unknown driver")
)

// Store is a small durable key/value store for session material.
// Remove of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Keys returns every key the session controller persists.
func Keys() []string {
	return []string{KeyAccessToken, KeyRefreshToken, KeyUser}
}

// Open constructs the backend selected by cfg. The returned cleanup releases
// any connections held by the store and is never nil.
func Open(ctx context.Context, cfg config.StoreConfig, deviceID string) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), noop, nil
	case "file":
		store, err := NewFileStore(cfg.Path, cfg.Passphrase)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case "sqlite":
		store, err := NewSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case "postgres":
		pool, err := ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		return NewPostgresStore(pool, deviceID), func() error { pool.Close(); return nil }, nil
	case "redis":
		client := NewRedisClient(cfg.RedisAddr, cfg.RedisDB)
		return NewRedisStore(client, deviceID), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
