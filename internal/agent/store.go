// Package agent implements the client side of tabrecall: the bounded
// local event buffer, the persisted state blob, the sync engine that
// drains the buffer to the server, and the local HTTP daemon the
// browser extension talks to.
package agent

import (
	"sync"
	"time"

	"github.com/tabrecall/tabrecall/internal/event"
)

// DefaultCapacity bounds the local buffer. Oldest events are evicted
// first once the buffer is full; under sustained disconnection this is
// deliberate data loss, surfaced through the eviction counter.
const DefaultCapacity = 1000

// TabInfo is the last known state of a live tab. It lets a close event
// recover the tab's title and URL after the browser has already
// discarded the tab object.
type TabInfo struct {
	WindowID int       `json:"window_id"`
	Title    string    `json:"title"`
	URL      string    `json:"url"`
	LastSeen time.Time `json:"last_seen"`
}

// Store is the bounded FIFO buffer of not-yet-synced events plus the
// tab snapshot side table. All operations take one mutex, so callers
// never observe partial writes.
type Store struct {
	mu       sync.Mutex
	capacity int
	events   []event.Event
	tabs     map[int]TabInfo
	evicted  uint64
}

// NewStore creates an empty Store. Non-positive capacity falls back to
// DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		tabs:     make(map[int]TabInfo),
	}
}

// Append adds an event to the buffer. It never blocks on network or
// disk. If the buffer is over capacity the oldest events are dropped
// and counted.
func (s *Store) Append(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)
	if over := len(s.events) - s.capacity; over > 0 {
		s.events = s.events[over:]
		s.evicted += uint64(over)
	}
}

// Pending returns the not-yet-synced events, oldest first. The slice is
// a copy and stays stable while the caller iterates it.
func (s *Store) Pending() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len reports the number of pending events.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Evicted reports how many events have been dropped to capacity since
// the store was created or restored.
func (s *Store) Evicted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

// Acknowledge removes confirmed-synced events by local id. Ids not
// present are ignored.
func (s *Store) Acknowledge(ids []string) {
	if len(ids) == 0 {
		return
	}
	confirmed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		confirmed[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	for _, ev := range s.events {
		if _, ok := confirmed[ev.ID]; !ok {
			kept = append(kept, ev)
		}
	}
	s.events = kept
}

// SetTabSnapshot records the last known state of a tab.
func (s *Store) SetTabSnapshot(tabID int, info TabInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs[tabID] = info
}

// TabSnapshot returns the last known state of a tab, if any.
func (s *Store) TabSnapshot(tabID int) (TabInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.tabs[tabID]
	return info, ok
}

// ClearTabSnapshot forgets a closed tab.
func (s *Store) ClearTabSnapshot(tabID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tabs, tabID)
}

// Export copies the store's contents into a State for persistence.
func (s *Store) Export(st *State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.Events = make([]event.Event, len(s.events))
	copy(st.Events, s.events)
	st.TabInfo = make(map[int]TabInfo, len(s.tabs))
	for id, info := range s.tabs {
		st.TabInfo[id] = info
	}
	st.Evicted = s.evicted
}

// Restore replaces the store's contents from a previously persisted
// State. Events beyond capacity are evicted oldest first, same as
// Append would.
func (s *Store) Restore(st *State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events[:0], st.Events...)
	s.evicted = st.Evicted
	if over := len(s.events) - s.capacity; over > 0 {
		s.events = s.events[over:]
		s.evicted += uint64(over)
	}

	s.tabs = make(map[int]TabInfo, len(st.TabInfo))
	for id, info := range st.TabInfo {
		s.tabs[id] = info
	}
}
