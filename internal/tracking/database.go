package tracking

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// NewDatabase opens the SQLite database at dbPath and applies the schema
func NewDatabase(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// every pooled connection to :memory: would get its own empty database
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA user_version = 1",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return db, nil
}

// ensureSchema creates the database schema if it doesn't exist
func ensureSchema(db *sql.DB) error {
	schema := `
-- One row per decoded file
CREATE TABLE IF NOT EXISTS streams (
    id          INTEGER PRIMARY KEY,
    path        TEXT    NOT NULL UNIQUE,
    codec       TEXT    NOT NULL DEFAULT '',
    sample_rate INTEGER NOT NULL DEFAULT 0 CHECK (sample_rate >= 0),
    channels    INTEGER NOT NULL DEFAULT 0 CHECK (channels >= 0),
    duration    INTEGER NOT NULL DEFAULT 0
);

-- One row per Decode call
CREATE TABLE IF NOT EXISTS decode_events (
    id           INTEGER PRIMARY KEY,
    timestamp    INTEGER NOT NULL,
    session_id   TEXT    NOT NULL,
    stream_id    INTEGER NOT NULL REFERENCES streams(id) ON DELETE CASCADE,
    channel      INTEGER NOT NULL,
    start        INTEGER NOT NULL,
    length       INTEGER NOT NULL,
    filled       INTEGER NOT NULL CHECK (filled >= 0),
    cache_filled INTEGER NOT NULL CHECK (cache_filled >= 0),
    seeked       INTEGER NOT NULL CHECK (seeked IN (0,1)),
    duration_us  INTEGER NOT NULL CHECK (duration_us >= 0),
    error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp ON decode_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_events_stream ON decode_events(stream_id);
CREATE INDEX IF NOT EXISTS idx_events_session ON decode_events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_failed ON decode_events(error) WHERE error IS NOT NULL;
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}
