// Package storage provides the central SQLite database for autorelay.
// A single autorelay.db file holds the reply rules, the contact allow-list
// and the recurring schedules. The whatsapp session database (whatsmeow)
// remains separate.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Trigger -> reply rules. Enumeration order is rowid order, which is
-- insertion order (upserts keep the original rowid).
CREATE TABLE IF NOT EXISTS rules (
    trigger TEXT PRIMARY KEY,
    reply   TEXT NOT NULL
);

-- Contacts allowed to receive auto-replies on the secondary channel.
CREATE TABLE IF NOT EXISTS authorized_numbers (
    contact_id TEXT PRIMARY KEY,
    added_at   TEXT NOT NULL DEFAULT ''
);

-- Recurring daily schedules. id = contact_id + "_" + HH:MM.
CREATE TABLE IF NOT EXISTS schedules (
    id         TEXT PRIMARY KEY,
    contact_id TEXT NOT NULL,
    message    TEXT NOT NULL,
    hour       INTEGER NOT NULL,
    minute     INTEGER NOT NULL,
    created_at TEXT NOT NULL DEFAULT ''
);
`

// Open opens (or creates) the central autorelay.db at the given path.
// It enables WAL mode for concurrent read performance and creates all tables.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		path = "./data/autorelay.db"
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	// Verify connectivity.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return db, nil
}

// OpenMemory opens an in-memory database with the full schema applied.
// Used by tests and the offline console.
func OpenMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
