// Package store persists ended-session transcripts in SQLite. The live
// session is purely in-memory; the archive is a consumer of transcript
// snapshots, not part of reconciliation.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/tamsinv/parley/internal/logging"
)

// DB wraps a SQLite database connection with migration support.
type DB struct {
	sql *sql.DB
	log *logging.Logger
}

// Open opens (or creates) a SQLite database at the given path and runs
// migrations. Use ":memory:" for tests.
func Open(path string, log *logging.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	db := &DB{sql: sqlDB, log: log.Sub("store")}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	db.log.Debug().Str("path", path).Msg("database opened")
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.sql.Close()
}

// migrate runs all pending migrations inside transactions.
func (db *DB) migrate() error {
	if _, err := db.sql.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := db.sql.QueryRow(
			"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version,
		).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		db.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

		tx, err := db.sql.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// migration is a single schema change.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create contacts and transcript items",
		SQL: `
			CREATE TABLE contacts (
				contact_id     TEXT PRIMARY KEY,
				participant_id TEXT NOT NULL,
				display_name   TEXT NOT NULL DEFAULT '',
				archived_at    TEXT NOT NULL DEFAULT (datetime('now')),
				item_count     INTEGER NOT NULL DEFAULT 0
			);

			CREATE TABLE transcript_items (
				rowid            INTEGER PRIMARY KEY AUTOINCREMENT,
				contact_id       TEXT NOT NULL REFERENCES contacts(contact_id) ON DELETE CASCADE,
				item_id          TEXT NOT NULL,
				kind             TEXT NOT NULL,
				participant_id   TEXT NOT NULL,
				participant_role TEXT NOT NULL,
				display_name     TEXT NOT NULL DEFAULT '',
				content_type     TEXT NOT NULL,
				content          TEXT NOT NULL DEFAULT '',
				direction        TEXT NOT NULL,
				status           TEXT NOT NULL,
				sent_time        REAL NOT NULL,
				receipt_type     TEXT NOT NULL DEFAULT '',
				attachment       TEXT
			);

			CREATE UNIQUE INDEX idx_items_contact_item ON transcript_items (contact_id, item_id);
			CREATE INDEX idx_items_contact_time ON transcript_items (contact_id, sent_time);
		`,
	},
}
