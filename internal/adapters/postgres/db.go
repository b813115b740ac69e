package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/longregen/toolrouter/internal/adapters/retry"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS toolrouter_servers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		transport_type TEXT NOT NULL,
		config JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_toolrouter_servers_created
		ON toolrouter_servers (created_at) WHERE deleted_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS toolrouter_preferences (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Connect opens a pool and verifies the connection, retrying transient
// dial failures.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Force UTC timezone to prevent timezone-related issues with TIMESTAMP columns
	poolConfig.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	// the database may still be starting next to us
	if err := retry.DefaultBackoff().Do(ctx, func(int) error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

// Migrate creates the schema in a single transaction.
func Migrate(ctx context.Context, tm *TransactionManager) error {
	return tm.WithTransaction(ctx, func(ctx context.Context) error {
		conn := GetConn(ctx, nil)
		for _, stmt := range schema {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		return nil
	})
}
