package engine

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/Subtalime/vintel-sub001/internal/model"
)

const maxRememberedLines = 50000

type lineStamp struct {
	key [sha256.Size]byte
	at  time.Time
}

// lineSet remembers chat lines by the digest of their dedup key so a
// polling reader that delivers a line twice changes state once. Entries
// leave in arrival order, after the window or past the size limit.
type lineSet struct {
	mu    sync.Mutex
	seen  map[[sha256.Size]byte]struct{}
	order []lineStamp
	limit int
}

func newLineSet(limit int) *lineSet {
	if limit <= 0 {
		limit = maxRememberedLines
	}
	return &lineSet{seen: make(map[[sha256.Size]byte]struct{}), limit: limit}
}

// Seen reports whether ev was recorded within window before now, and
// records it when it was not.
func (s *lineSet) Seen(ev model.ChatEvent, now time.Time, window time.Duration) bool {
	key := sha256.Sum256([]byte(ev.DedupKey()))
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.order) > 0 && now.Sub(s.order[0].at) > window {
		s.dropOldest()
	}
	if _, ok := s.seen[key]; ok {
		return true
	}
	s.seen[key] = struct{}{}
	s.order = append(s.order, lineStamp{key: key, at: now})
	for len(s.order) > s.limit {
		s.dropOldest()
	}
	return false
}

func (s *lineSet) dropOldest() {
	delete(s.seen, s.order[0].key)
	s.order[0] = lineStamp{}
	s.order = s.order[1:]
}

func (s *lineSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
