package cache

import (
	"context"
	"time"
)

type memoryBackend struct {
	entries map[string]entry
	schema  string
	hasVer  bool
}

func newMemory() *memoryBackend {
	return &memoryBackend{entries: make(map[string]entry)}
}

func (b *memoryBackend) init(context.Context) error { return nil }

func (b *memoryBackend) version(context.Context) (string, bool, error) {
	return b.schema, b.hasVer, nil
}

func (b *memoryBackend) setVersion(_ context.Context, v string) error {
	b.schema, b.hasVer = v, true
	return nil
}

// load hands out a copy so callers never write into a stored value.
func (b *memoryBackend) load(_ context.Context, key string) (entry, bool, error) {
	e, ok := b.entries[key]
	if ok {
		e.Value = append([]byte(nil), e.Value...)
	}
	return e, ok, nil
}

func (b *memoryBackend) store(_ context.Context, e entry, _ time.Time) error {
	value := make([]byte, len(e.Value))
	copy(value, e.Value)
	e.Value = value
	b.entries[e.Key] = e
	return nil
}

func (b *memoryBackend) remove(_ context.Context, key string) error {
	delete(b.entries, key)
	return nil
}

func (b *memoryBackend) removeExpired(_ context.Context, key string, now time.Time) error {
	if e, ok := b.entries[key]; ok && !now.Before(e.ExpiresAt) {
		delete(b.entries, key)
	}
	return nil
}

func (b *memoryBackend) clear(context.Context) error {
	b.entries = make(map[string]entry)
	return nil
}

func (b *memoryBackend) close() error { return nil }
