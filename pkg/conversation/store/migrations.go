package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// migration is one schema step applied inside its own transaction.
type migration struct {
	version int
	up      func(tx *sql.Tx) error
}

var sqliteMigrations = []migration{
	{
		version: 1,
		up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE conversations (
					id         TEXT PRIMARY KEY,
					title      TEXT NOT NULL DEFAULT '',
					metadata   TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				);
				CREATE TABLE messages (
					id              INTEGER PRIMARY KEY AUTOINCREMENT,
					conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
					role            TEXT NOT NULL,
					content         TEXT NOT NULL DEFAULT '',
					tool_calls      TEXT NOT NULL DEFAULT '',
					timestamp       TEXT NOT NULL
				);
				CREATE INDEX idx_messages_conversation_ts ON messages (conversation_id, timestamp, id);
				CREATE INDEX idx_conversations_updated ON conversations (updated_at DESC);
			`)
			return err
		},
	},
	{
		version: 2,
		up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				ALTER TABLE messages ADD COLUMN tool_call_id TEXT NOT NULL DEFAULT '';
				ALTER TABLE messages ADD COLUMN tool_name TEXT NOT NULL DEFAULT '';
			`)
			return err
		},
	},
}

// runMigrations creates the schema_version table on first use and applies
// every migration newer than the recorded version.
func runMigrations(db *sql.DB, migrations []migration) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (0)"); err != nil {
			return fmt.Errorf("insert initial schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if err := m.up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update schema version to %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
