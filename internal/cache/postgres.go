package cache

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func newPostgres(dsn string) (backend, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/vintel?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlBackend{db: db, numbered: true, schema: []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			cache_key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			expires_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at)`,
		`CREATE TABLE IF NOT EXISTS cache_meta (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}}, nil
}
