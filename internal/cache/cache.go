// Package cache is the TTL key/value substrate shared by the engine, the
// topology importer and anything else that can regenerate what it stores.
// Backend failures are logged and surface as misses, never as errors.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Subtalime/vintel-sub001/internal/config"
	"github.com/Subtalime/vintel-sub001/internal/metrics"
)

var ErrClosed = errors.New("cache closed")

type Options struct {
	Driver           string
	DSN              string
	SchemaVersion    string
	Compression      string
	CompressMinBytes int
	Logger           *slog.Logger
	Now              func() time.Time
}

func OptionsFromConfig(cfg config.CacheConfig, logger *slog.Logger) Options {
	return Options{
		Driver:           cfg.Driver,
		DSN:              cfg.DSN,
		SchemaVersion:    cfg.SchemaVersion,
		Compression:      cfg.Compression,
		CompressMinBytes: cfg.CompressMinBytes,
		Logger:           logger,
	}
}

// Store serializes writes behind one lock; reads share it.
type Store struct {
	mu      sync.RWMutex
	backend backend
	codec   *codec
	logger  *slog.Logger
	now     func() time.Time
	driver  string
	closed  bool
	purges  sync.WaitGroup
}

// Open connects the backend, creates its schema and applies the version
// guard: a missing or different schema version clears every entry before
// Open returns.
func Open(ctx context.Context, opts Options) (*Store, error) {
	algo, err := ParseCompression(opts.Compression)
	if err != nil {
		return nil, err
	}
	b, err := newBackend(opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}
	return open(ctx, b, algo, opts)
}

// OpenMemory returns a process-local store. It never fails to open.
func OpenMemory(logger *slog.Logger) *Store {
	s, err := open(context.Background(), newMemory(), CompressionNone, Options{Driver: "memory", Logger: logger})
	if err != nil {
		panic("cache: memory store: " + err.Error())
	}
	return s
}

func open(ctx context.Context, b backend, algo Compression, opts Options) (*Store, error) {
	c, err := newCodec(algo, opts.CompressMinBytes)
	if err != nil {
		_ = b.close()
		return nil, err
	}
	s := &Store{
		backend: b,
		codec:   c,
		logger:  opts.Logger,
		now:     opts.Now,
		driver:  opts.Driver,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.driver == "" {
		s.driver = "sqlite"
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := b.init(ctx); err != nil {
		s.shutdown()
		return nil, fmt.Errorf("cache %s init: %w", s.driver, err)
	}
	if err := s.checkVersion(ctx, opts.SchemaVersion); err != nil {
		s.shutdown()
		return nil, fmt.Errorf("cache %s version guard: %w", s.driver, err)
	}
	return s, nil
}

func (s *Store) checkVersion(ctx context.Context, want string) error {
	if want == "" {
		want = "1"
	}
	have, ok, err := s.backend.version(ctx)
	if err != nil {
		return err
	}
	if ok && have == want {
		return nil
	}
	if ok {
		s.logger.Info("cache schema version changed, invalidating", "have", have, "want", want)
	}
	if err := s.backend.clear(ctx); err != nil {
		return err
	}
	return s.backend.setVersion(ctx, want)
}

func (s *Store) Driver() string {
	return s.driver
}

// Put stores value until now+ttl, replacing any existing entry. A ttl of
// zero or less stores an entry that is already expired.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) {
	frame := s.codec.encode(value)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	now := s.now()
	e := entry{Key: key, Value: frame, ExpiresAt: now.Add(ttl)}
	if err := s.backend.store(ctx, e, now); err != nil {
		s.degrade("put", key, err)
	}
}

// Get returns the value for key, or false when it is absent, expired or
// unreadable. Expired entries are purged in the background.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false
	}
	e, ok, err := s.backend.load(ctx, key)
	if err != nil {
		s.degrade("get", key, err)
		return nil, false
	}
	if !ok {
		metrics.IncCache(metrics.ResultMiss)
		return nil, false
	}
	if !e.ExpiresAt.IsZero() && !s.now().Before(e.ExpiresAt) {
		metrics.IncCache(metrics.ResultMiss)
		s.purgeLater(key, false)
		return nil, false
	}
	value, err := s.codec.decode(e.Value)
	if err != nil {
		s.degrade("decode", key, err)
		s.purgeLater(key, true)
		return nil, false
	}
	metrics.IncCache(metrics.ResultHit)
	return value, true
}

// purgeLater must be called with the read lock held so that Close cannot
// start waiting before the purge is registered.
func (s *Store) purgeLater(key string, unconditional bool) {
	s.purges.Add(1)
	go func() {
		defer s.purges.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		ctx := context.Background()
		var err error
		if unconditional {
			err = s.backend.remove(ctx, key)
		} else {
			// a Put since the read may have refreshed the entry
			err = s.backend.removeExpired(ctx, key, s.now())
		}
		if err != nil {
			s.degrade("purge", key, err)
		}
	}()
}

func (s *Store) Delete(ctx context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.backend.remove(ctx, key); err != nil {
		s.degrade("delete", key, err)
	}
}

// InvalidateAll drops every entry. The schema version marker survives.
func (s *Store) InvalidateAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.backend.clear(ctx); err != nil {
		s.degrade("invalidate_all", "", err)
	}
}

// Close waits for pending purges and releases the backend. Operations
// after Close are misses and no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()
	s.purges.Wait()
	return s.shutdown()
}

func (s *Store) shutdown() error {
	s.codec.close()
	return s.backend.close()
}

func (s *Store) degrade(op, key string, err error) {
	metrics.IncCache(metrics.ResultError)
	s.logger.Warn("cache operation failed", "op", op, "driver", s.driver, "key", key, "err", err)
}
