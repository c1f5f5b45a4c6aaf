package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite database connection for the app-owned chatroom.db.
// SQLite serializes writers (WAL + busy timeout), which makes every
// single-statement upsert an atomic per-entity write even when the sync
// engine, the outbox sender and the stream merger run concurrently.
type DB struct {
	*sql.DB
	// fts reports whether the linked sqlite has the fts5 module; set
	// during Migrate, read-only afterwards.
	fts bool
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db}, nil
}
