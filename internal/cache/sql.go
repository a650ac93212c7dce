package cache

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"
)

const versionName = "schema_version"

// sqlBackend serves both SQL drivers; queries are written with "?" and
// rebound for drivers that number their placeholders.
type sqlBackend struct {
	db       *sql.DB
	schema   []string
	numbered bool
}

func (b *sqlBackend) q(query string) string {
	if !b.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *sqlBackend) init(ctx context.Context) error {
	for _, stmt := range b.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *sqlBackend) version(ctx context.Context) (string, bool, error) {
	var v string
	err := b.db.QueryRowContext(ctx, b.q(`SELECT value FROM cache_meta WHERE name = ?`), versionName).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *sqlBackend) setVersion(ctx context.Context, v string) error {
	_, err := b.db.ExecContext(ctx, b.q(
		`INSERT INTO cache_meta (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`),
		versionName, v)
	return err
}

func (b *sqlBackend) load(ctx context.Context, key string) (entry, bool, error) {
	var value []byte
	var expires int64
	err := b.db.QueryRowContext(ctx,
		b.q(`SELECT value, expires_at FROM cache_entries WHERE cache_key = ?`), key).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, err
	}
	return entry{Key: key, Value: value, ExpiresAt: time.Unix(0, expires)}, true, nil
}

func (b *sqlBackend) store(ctx context.Context, e entry, _ time.Time) error {
	_, err := b.db.ExecContext(ctx, b.q(
		`INSERT INTO cache_entries (cache_key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`),
		e.Key, e.Value, e.ExpiresAt.UnixNano())
	return err
}

func (b *sqlBackend) remove(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, b.q(`DELETE FROM cache_entries WHERE cache_key = ?`), key)
	return err
}

func (b *sqlBackend) removeExpired(ctx context.Context, key string, now time.Time) error {
	_, err := b.db.ExecContext(ctx,
		b.q(`DELETE FROM cache_entries WHERE cache_key = ? AND expires_at <= ?`), key, now.UnixNano())
	return err
}

func (b *sqlBackend) clear(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	return err
}

func (b *sqlBackend) close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
