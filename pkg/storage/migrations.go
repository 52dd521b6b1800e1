package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create accounts and sessions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS accounts (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					password_hash VARCHAR(255) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_login_at TIMESTAMPTZ
				);

				CREATE TABLE IF NOT EXISTS sessions (
					id BIGSERIAL PRIMARY KEY,
					account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					csrf_token VARCHAR(64) NOT NULL,
					expires_at TIMESTAMPTZ NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_sessions_account_id ON sessions(account_id);
				CREATE INDEX idx_sessions_expires_at ON sessions(expires_at);
			`,
		},
		{
			Version:     2,
			Description: "Create password_resets table",
			SQL: `
				CREATE TABLE IF NOT EXISTS password_resets (
					id BIGSERIAL PRIMARY KEY,
					account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					expires_at TIMESTAMPTZ NOT NULL,
					used_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_password_resets_account_id ON password_resets(account_id);
			`,
		},
		{
			Version:     3,
			Description: "Create auth_attempts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS auth_attempts (
					id BIGSERIAL PRIMARY KEY,
					action VARCHAR(50) NOT NULL,
					identity VARCHAR(512) NOT NULL,
					attempted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_auth_attempts_lookup ON auth_attempts(action, identity, attempted_at);
			`,
		},
		{
			Version:     4,
			Description: "Create items and usage_counters tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS items (
					id BIGSERIAL PRIMARY KEY,
					owner_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					kind VARCHAR(20) NOT NULL,
					name VARCHAR(255) NOT NULL,
					attributes JSONB NOT NULL DEFAULT '{}',
					assigned_razor_id BIGINT REFERENCES items(id) ON DELETE SET NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_items_owner_id ON items(owner_id);
				CREATE INDEX idx_items_assigned_razor_id ON items(assigned_razor_id);

				CREATE TABLE IF NOT EXISTS usage_counters (
					item_id BIGINT PRIMARY KEY REFERENCES items(id) ON DELETE CASCADE,
					count INT NOT NULL DEFAULT 0 CHECK (count >= 0),
					version BIGINT NOT NULL DEFAULT 0,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     5,
			Description: "Create image_assets table",
			SQL: `
				CREATE TABLE IF NOT EXISTS image_assets (
					id BIGSERIAL PRIMARY KEY,
					item_id BIGINT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
					variant VARCHAR(20) NOT NULL,
					storage_key VARCHAR(512) NOT NULL UNIQUE,
					content_type VARCHAR(50) NOT NULL,
					size_bytes BIGINT NOT NULL,
					checksum VARCHAR(64) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_image_assets_item_id ON image_assets(item_id);
			`,
		},
		{
			Version:     6,
			Description: "Create subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					id BIGSERIAL PRIMARY KEY,
					account_id BIGINT NOT NULL UNIQUE REFERENCES accounts(id) ON DELETE CASCADE,
					trial_started_at TIMESTAMPTZ NOT NULL,
					trial_length_days INT NOT NULL,
					expires_at TIMESTAMPTZ,
					canceled_at TIMESTAMPTZ,
					state VARCHAR(20) NOT NULL,
					last_checked_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migration versions: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
