package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type entry struct {
	Key   string
	Value []byte
	// ExpiresAt is zero when the backend enforces expiry itself.
	ExpiresAt time.Time
}

// backend is the raw storage under Store. Store serializes every call
// that mutates, so implementations need no locking of their own.
type backend interface {
	init(ctx context.Context) error
	version(ctx context.Context) (string, bool, error)
	setVersion(ctx context.Context, v string) error
	load(ctx context.Context, key string) (entry, bool, error)
	store(ctx context.Context, e entry, now time.Time) error
	remove(ctx context.Context, key string) error
	removeExpired(ctx context.Context, key string, now time.Time) error
	clear(ctx context.Context) error
	close() error
}

func newBackend(driver, dsn string) (backend, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		return newSQLite(dsn)
	case "postgres", "postgresql":
		return newPostgres(dsn)
	case "redis":
		return newRedis(dsn)
	case "memory":
		return newMemory(), nil
	}
	return nil, fmt.Errorf("unsupported cache driver %q", driver)
}
