package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; each index is a schema version.
var migrations = []string{
	`CREATE TABLE users (
		id         TEXT PRIMARY KEY,
		username   TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE accounts (
		id                  TEXT PRIMARY KEY,
		user_id             TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		provider            TEXT NOT NULL,
		provider_account_id TEXT NOT NULL,
		access_token        TEXT NOT NULL DEFAULT '',
		refresh_token       TEXT NOT NULL DEFAULT '',
		id_token            TEXT NOT NULL DEFAULT '',
		token_type          TEXT NOT NULL DEFAULT '',
		scope               TEXT NOT NULL DEFAULT '',
		expires_at          INTEGER
	);
	CREATE UNIQUE INDEX idx_accounts_user_provider ON accounts(user_id, provider);

	CREATE TABLE user_time_intervals (
		user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		week_day     INTEGER NOT NULL CHECK(week_day BETWEEN 0 AND 6),
		start_minute INTEGER NOT NULL,
		end_minute   INTEGER NOT NULL,
		PRIMARY KEY (user_id, week_day)
	);

	CREATE TABLE schedulings (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name         TEXT NOT NULL,
		email        TEXT NOT NULL,
		observations TEXT,
		date         INTEGER NOT NULL,
		created_at   INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX idx_schedulings_user_date ON schedulings(user_id, date);`,

	`ALTER TABLE schedulings ADD COLUMN event_id TEXT NOT NULL DEFAULT '';
	ALTER TABLE schedulings ADD COLUMN event_sync_status TEXT NOT NULL DEFAULT 'pending'
		CHECK(event_sync_status IN ('pending', 'synced', 'failed'));
	ALTER TABLE schedulings ADD COLUMN event_sync_error TEXT NOT NULL DEFAULT '';
	ALTER TABLE schedulings ADD COLUMN event_sync_attempts INTEGER NOT NULL DEFAULT 0;
	CREATE INDEX idx_schedulings_sync ON schedulings(event_sync_status, created_at);`,
}

// migrate applies every migration newer than the recorded schema version.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version)
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	return v, err
}
