// Package history keeps a bounded, in-memory log of recent location
// state changes for the pull API.
package history

import (
	"strings"
	"sync"
	"time"

	"github.com/Subtalime/vintel-sub001/internal/model"
)

type Store struct {
	mu    sync.RWMutex
	buf   []model.StateChange
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

// LocationStateChanged records ch, dropping the oldest entry when full.
func (s *Store) LocationStateChanged(ch model.StateChange) {
	s.Add(ch)
}

func (s *Store) Add(ch model.StateChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, ch)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = ch
}

// List returns up to limit most recent changes, oldest first.
func (s *Store) List(limit int) []model.StateChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.StateChange, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.StateChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StateChange, 0)
	for _, ch := range s.buf {
		if !ch.At.Before(ts) {
			out = append(out, ch)
		}
	}
	return out
}

// ForLocation returns the recorded changes of one location, oldest first.
func (s *Store) ForLocation(name string) []model.StateChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StateChange, 0)
	for _, ch := range s.buf {
		if strings.EqualFold(ch.Location, name) {
			out = append(out, ch)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
