package cache

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

func newSQLite(dsn string) (backend, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:vintel-cache.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one connection keeps the single-file store to a single writer
	db.SetMaxOpenConns(1)
	return &sqlBackend{db: db, schema: []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			cache_key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cache_meta (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}}, nil
}
