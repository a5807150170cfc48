package store

import (
	"context"
	"fmt"
	"strings"
)

type migration struct {
	version    int
	statements []string
}

// migrations are written once; {{ts}} expands to the dialect's timestamp type.
var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				google_sub TEXT NOT NULL UNIQUE,
				email TEXT NOT NULL,
				display_name TEXT NOT NULL DEFAULT '',
				created_at {{ts}} NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS senders (
				id TEXT PRIMARY KEY,
				owner_user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				email TEXT NOT NULL,
				display_name TEXT NOT NULL DEFAULT '',
				created_at {{ts}} NOT NULL,
				UNIQUE (owner_user_id, email)
			)`,
			`CREATE TABLE IF NOT EXISTS emails (
				id TEXT PRIMARY KEY,
				sender_id TEXT NOT NULL REFERENCES senders(id) ON DELETE CASCADE,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				subject TEXT NOT NULL,
				body TEXT NOT NULL,
				received_at {{ts}} NOT NULL,
				provider_message_id TEXT NOT NULL UNIQUE,
				created_at {{ts}} NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_emails_sender_received ON emails (sender_id, received_at)`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				provider TEXT NOT NULL,
				access_token TEXT NOT NULL,
				refresh_token TEXT NOT NULL DEFAULT '',
				expires_at {{ts}},
				updated_at {{ts}} NOT NULL,
				PRIMARY KEY (user_id, provider)
			)`,
		},
	},
}

func (s *Store) timestampType() string {
	if s.driver == DriverPostgres {
		return "TIMESTAMPTZ"
	}
	return "DATETIME"
}

// Migrate applies every migration newer than the recorded schema version.
// Each migration runs in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	expand := strings.NewReplacer("{{ts}}", s.timestampType())

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, expand.Replace(stmt)); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO schema_version (version) VALUES (?)`), m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: recording version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", m.version, err)
		}
	}

	return nil
}

// SchemaVersion returns the highest applied migration, or 0.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.GetContext(ctx, &v, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// LatestSchemaVersion is the version Migrate brings a database to.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}
