package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// InitSQLite opens the local SQLite database and creates the session and
// tick tables. ":memory:" skips the directory setup.
func InitSQLite(dbPath string) (*sql.DB, error) {
	dsn := dbPath
	if dbPath == ":memory:" {
		dsn = "file::memory:"
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := createSchemas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schemas: %w", err)
	}

	return db, nil
}

func createSchemas(db *sql.DB) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			confidence_threshold REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			timestamp DATETIME NOT NULL,
			event_type TEXT NOT NULL,
			health_percent INTEGER NOT NULL,
			confidence REAL NOT NULL,
			health_bucket INTEGER NOT NULL,
			look TEXT NOT NULL DEFAULT '',
			frame TEXT NOT NULL DEFAULT '',
			is_pain BOOLEAN NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_session_id ON ticks(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_timestamp ON ticks(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_game_id ON sessions(game_id);`,
	}

	for _, query := range schemas {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}
