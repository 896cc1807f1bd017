// Package postgres provides a PostgreSQL-backed memory store for deployments
// where device memories must be shared across gateway instances. It uses a
// pgx connection pool and a single device_memories table, created on demand.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxwire/voxwire/pkg/provider/memory"
)

// Compile-time interface assertion.
var _ memory.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS device_memories (
	device_id  TEXT PRIMARY KEY,
	summary    TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store implements memory.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at connString and ensures the schema exists.
// The caller must call Close when the store is no longer needed.
func New(ctx context.Context, connString string) (*Store, error) {
	if connString == "" {
		return nil, errors.New("postgres: connString must not be empty")
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ensure schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Load implements memory.Store.
func (s *Store) Load(ctx context.Context, deviceID string) (string, error) {
	var summary string
	err := s.pool.QueryRow(ctx,
		`SELECT summary FROM device_memories WHERE device_id = $1`,
		deviceID,
	).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres: load memory for %q: %w", deviceID, err)
	}
	return summary, nil
}

// Save implements memory.Store.
func (s *Store) Save(ctx context.Context, deviceID, summary string) error {
	if deviceID == "" {
		return errors.New("postgres: deviceID must not be empty")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO device_memories (device_id, summary, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (device_id) DO UPDATE
		 SET summary = EXCLUDED.summary, updated_at = now()`,
		deviceID, summary,
	)
	if err != nil {
		return fmt.Errorf("postgres: save memory for %q: %w", deviceID, err)
	}
	return nil
}

// Close implements memory.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
