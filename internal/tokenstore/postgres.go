package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the table used by PostgresStore. It is applied by the
// migrate command.
const PostgresSchema = `CREATE TABLE IF NOT EXISTS device_tokens (
        device_id  TEXT NOT NULL,
        key        TEXT NOT NULL,
        value      TEXT NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        PRIMARY KEY (device_id, key)
)`

// Pool abstracts the pgx connection pool to make testing easier.
type Pool interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	Close()
}

// ConnectPostgres initialises a PostgreSQL connection pool.
func ConnectPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return pool, nil
}

// PostgresStore persists keys in PostgreSQL, scoped by device. Web deployments
// use it so a browser session can be restored from any instance.
type PostgresStore struct {
	pool     Pool
	deviceID string
}

// NewPostgresStore constructs a store for deviceID backed by pool.
func NewPostgresStore(pool Pool, deviceID string) *PostgresStore {
	return &PostgresStore{pool: pool, deviceID: deviceID}
}

// Get loads the value stored for key.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var value string
	err = conn.QueryRow(ctx, `
        SELECT value
        FROM device_tokens
        WHERE device_id = $1 AND key = $2
    `, s.deviceID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select token %s: %w", key, err)
	}
	return value, nil
}

// Set stores or replaces the value for key.
func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO device_tokens (device_id, key, value, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (device_id, key)
        DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
    `, s.deviceID, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert token %s: %w", key, err)
	}
	return nil
}

// Remove deletes key for this device.
func (s *PostgresStore) Remove(ctx context.Context, key string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `
        DELETE FROM device_tokens
        WHERE device_id = $1 AND key = $2
    `, s.deviceID, key); err != nil {
		return fmt.Errorf("delete token %s: %w", key, err)
	}
	return nil
}
