package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                BIGSERIAL PRIMARY KEY,
		name              VARCHAR(255) NOT NULL,
		email             VARCHAR(255) NOT NULL UNIQUE,
		signup_date       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		country_code      VARCHAR(2) NOT NULL,
		subscription_tier VARCHAR(50) NOT NULL DEFAULT 'free',
		lifetime_value    NUMERIC(10, 2) NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_country_code ON users (country_code)`,
	`CREATE INDEX IF NOT EXISTS idx_users_subscription_tier ON users (subscription_tier)`,
	`CREATE INDEX IF NOT EXISTS idx_users_lifetime_value ON users (lifetime_value)`,
	`CREATE TABLE IF NOT EXISTS exports (
		id             UUID PRIMARY KEY,
		status         VARCHAR(20) NOT NULL,
		total_rows     BIGINT NOT NULL DEFAULT 0,
		processed_rows BIGINT NOT NULL DEFAULT 0,
		percentage     INTEGER NOT NULL DEFAULT 0,
		error          TEXT,
		file_path      TEXT,
		filters        TEXT,
		columns        TEXT,
		delimiter      VARCHAR(4) NOT NULL DEFAULT ',',
		quote_char     VARCHAR(4) NOT NULL DEFAULT '"',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_exports_status ON exports (status)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		name              TEXT NOT NULL,
		email             TEXT NOT NULL UNIQUE,
		signup_date       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		country_code      TEXT NOT NULL,
		subscription_tier TEXT NOT NULL DEFAULT 'free',
		lifetime_value    REAL NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_country_code ON users (country_code)`,
	`CREATE INDEX IF NOT EXISTS idx_users_subscription_tier ON users (subscription_tier)`,
	`CREATE TABLE IF NOT EXISTS exports (
		id             TEXT PRIMARY KEY,
		status         TEXT NOT NULL,
		total_rows     INTEGER NOT NULL DEFAULT 0,
		processed_rows INTEGER NOT NULL DEFAULT 0,
		percentage     INTEGER NOT NULL DEFAULT 0,
		error          TEXT,
		file_path      TEXT,
		filters        TEXT,
		columns        TEXT,
		delimiter      TEXT NOT NULL DEFAULT ',',
		quote_char     TEXT NOT NULL DEFAULT '"',
		created_at     DATETIME NOT NULL,
		completed_at   DATETIME
	)`,
}

// EnsureSchema creates the users and exports tables when they do not exist
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	var statements []string
	switch db.DriverName() {
	case "postgres":
		statements = postgresSchema
	case "sqlite":
		statements = sqliteSchema
	default:
		return fmt.Errorf("no schema for driver %q", db.DriverName())
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
