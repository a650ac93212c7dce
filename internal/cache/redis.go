package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "vintel:cache:"

// redisBackend leaves expiry to redis key TTLs, so loaded entries carry
// no ExpiresAt.
type redisBackend struct {
	client *redis.Client
}

func newRedis(dsn string) (backend, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return &redisBackend{client: redis.NewClient(opts)}, nil
}

func entryKey(key string) string { return redisPrefix + "entry:" + key }

func (b *redisBackend) init(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *redisBackend) version(ctx context.Context) (string, bool, error) {
	v, err := b.client.Get(ctx, redisPrefix+"meta:"+versionName).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *redisBackend) setVersion(ctx context.Context, v string) error {
	return b.client.Set(ctx, redisPrefix+"meta:"+versionName, v, 0).Err()
}

func (b *redisBackend) load(ctx context.Context, key string) (entry, bool, error) {
	data, err := b.client.Get(ctx, entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, err
	}
	return entry{Key: key, Value: data}, true, nil
}

func (b *redisBackend) store(ctx context.Context, e entry, now time.Time) error {
	ttl := e.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return b.client.Del(ctx, entryKey(e.Key)).Err()
	}
	return b.client.Set(ctx, entryKey(e.Key), e.Value, ttl).Err()
}

func (b *redisBackend) remove(ctx context.Context, key string) error {
	return b.client.Del(ctx, entryKey(key)).Err()
}

func (b *redisBackend) removeExpired(context.Context, string, time.Time) error {
	return nil
}

func (b *redisBackend) clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, redisPrefix+"entry:*", 500).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := b.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (b *redisBackend) close() error {
	return b.client.Close()
}
