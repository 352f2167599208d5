// Package db provides the SQLite connection and schema for the activity ledger.
package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath is an in-memory database shared by all connections of the process.
const MemoryPath = "file:huefx?mode=memory&cache=shared"

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema. File databases use
// WAL journaling; in-memory databases are kept alive by a single pooled
// connection.
func Open(dbPath string) (*DB, error) {
	dsn := dbPath
	if !strings.Contains(dbPath, "mode=memory") {
		sep := "?"
		if strings.Contains(dbPath, "?") {
			sep = "&"
		}
		dsn = dbPath + sep + "_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	// Effect ledger - append-only lifecycle history, never replayed on startup
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS effect_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			effect_id TEXT,
			light_id TEXT NOT NULL,
			instance TEXT,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_effect_ledger_ts ON effect_ledger(timestamp);
		CREATE INDEX IF NOT EXISTS idx_effect_ledger_light ON effect_ledger(light_id, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create effect_ledger table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
