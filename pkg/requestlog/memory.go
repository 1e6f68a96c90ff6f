package requestlog

import "sync"

// DefaultMaxEntries bounds the in-memory log before old entries are evicted.
const DefaultMaxEntries = 1000

// InMemoryStore keeps the most recent entries in a bounded ring. Listing
// returns newest first. Subscribers get a best-effort live tail: a slow
// subscriber drops entries rather than stalling the serving path.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	max     int
	subs    map[int]chan *Entry
	nextSub int
}

// NewInMemoryStore creates a store retaining at most max entries. Non-positive
// max falls back to DefaultMaxEntries.
func NewInMemoryStore(max int) *InMemoryStore {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &InMemoryStore{
		max:  max,
		subs: make(map[int]chan *Entry),
	}
}

// Log appends an entry, evicting the oldest when full, and fans it out to
// subscribers without blocking.
func (s *InMemoryStore) Log(e *Entry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	if len(s.entries) > s.max {
		s.entries = s.entries[len(s.entries)-s.max:]
	}
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
	s.mu.Unlock()
}

// Get returns the entry with the given ID.
func (s *InMemoryStore) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return nil, false
}

// List returns matching entries, newest first, honoring Limit and Offset.
func (s *InMemoryStore) List(f Filter) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entry
	skipped := 0
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if !f.matches(e) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Clear drops all retained entries. Subscriptions stay live.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}

// Count returns the number of retained entries.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Subscribe registers a live tail. The returned cancel function must be
// called to release the channel; after cancel the channel is closed.
func (s *InMemoryStore) Subscribe() (<-chan *Entry, func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan *Entry, 64)
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}
