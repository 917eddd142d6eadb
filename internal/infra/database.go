package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresPool configures and returns a PostgreSQL connection pool.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// schema holds the tables backing identity.PostgresRepository.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS wallet_users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS wallet_instruments (
		id TEXT PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES wallet_users(id),
		position INT NOT NULL,
		brand TEXT NOT NULL,
		last4 TEXT NOT NULL,
		expiry TEXT NOT NULL,
		color_from TEXT NOT NULL,
		color_to TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS wallet_instruments_user_idx ON wallet_instruments (user_id, position)`,
	`CREATE TABLE IF NOT EXISTS wallet_credentials (
		id BYTEA PRIMARY KEY,
		email TEXT NOT NULL REFERENCES wallet_users(email),
		public_key BYTEA NOT NULL,
		attestation_type TEXT NOT NULL DEFAULT '',
		aaguid BYTEA,
		sign_count BIGINT NOT NULL DEFAULT 0,
		clone_warning BOOLEAN NOT NULL DEFAULT FALSE,
		backup_eligible BOOLEAN NOT NULL DEFAULT FALSE,
		backup_state BOOLEAN NOT NULL DEFAULT FALSE,
		transports TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS wallet_credentials_email_idx ON wallet_credentials (email)`,
}

// EnsureSchema creates the wallet tables when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
