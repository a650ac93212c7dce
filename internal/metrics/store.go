package metrics

import (
	"sort"
	"sync"
	"time"
)

// RoomStats counts ingest activity for one chat room.
type RoomStats struct {
	Room      string    `json:"room"`
	Lines     int64     `json:"lines"`
	Events    int64     `json:"events"`
	Malformed int64     `json:"malformed"`
	LastSeen  time.Time `json:"last_seen"`
}

// Store keeps per-room counters for the status API. The oldest room is
// evicted once limit rooms are tracked.
type Store struct {
	mu     sync.RWMutex
	byRoom map[string]*RoomStats
	limit  int
	now    func() time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{
		byRoom: make(map[string]*RoomStats),
		limit:  limit,
		now:    time.Now,
	}
}

// Record counts one raw line from room; parsed reports whether it became
// an event.
func (s *Store) Record(room string, parsed bool) {
	if s == nil || room == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byRoom[room]
	if !ok {
		st = &RoomStats{Room: room}
		s.byRoom[room] = st
	}
	st.Lines++
	if parsed {
		st.Events++
	} else {
		st.Malformed++
	}
	st.LastSeen = s.now().UTC()
	if len(s.byRoom) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(room string) (RoomStats, bool) {
	if s == nil {
		return RoomStats{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byRoom[room]
	if !ok {
		return RoomStats{}, false
	}
	return *st, true
}

// All returns a copy of every room's counters sorted by room name.
func (s *Store) All() []RoomStats {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RoomStats, 0, len(s.byRoom))
	for _, st := range s.byRoom {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}

func (s *Store) evictOldest() {
	var oldestRoom string
	var oldest time.Time
	for room, st := range s.byRoom {
		if oldestRoom == "" || st.LastSeen.Before(oldest) {
			oldestRoom = room
			oldest = st.LastSeen
		}
	}
	if oldestRoom != "" {
		delete(s.byRoom, oldestRoom)
	}
}

func (s *Store) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRoom = make(map[string]*RoomStats)
}
