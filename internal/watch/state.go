// Package watch is the appointment-polling core: observed-state tracking,
// change classification and the jittered poll scheduler.
package watch

import (
	"sort"
	"sync"
	"time"
)

// DefaultKnownDatesCap bounds how many dates (with their time lists) are
// retained between polls.
const DefaultKnownDatesCap = 10

// State is the process-wide appointment state. It is mutated only by the
// detector after each poll; command handlers and the digest read snapshots.
type State struct {
	mu          sync.Mutex
	cap         int
	earliest    string
	lastChecked time.Time
	known       map[string][]string
}

// DateTimes pairs one date with its recorded time slots.
type DateTimes struct {
	Date  string
	Times []string
}

// Snapshot is a read-only copy of the state.
type Snapshot struct {
	Earliest      string
	LastCheckedAt time.Time
	Dates         []DateTimes // chronologically ascending
}

func NewState(capacity int) *State {
	if capacity <= 0 {
		capacity = DefaultKnownDatesCap
	}
	return &State{cap: capacity, known: map[string][]string{}}
}

// Record notes the outcome of a poll: the current earliest date ("" when no
// availability) and the check time.
func (s *State) Record(earliest string, at time.Time) {
	s.mu.Lock()
	s.earliest = earliest
	s.lastChecked = at
	s.mu.Unlock()
}

// AddTimes records the time list for a date. An already-recorded date is
// never overwritten. When the map exceeds its cap, the chronologically-latest
// entries are evicted until size equals the cap.
func (s *State) AddTimes(date string, times []string) {
	if date == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.known[date]; !ok {
		s.known[date] = append([]string(nil), times...)
	}

	if len(s.known) <= s.cap {
		return
	}
	// ISO dates sort lexicographically in chronological order.
	keys := make([]string, 0, len(s.known))
	for k := range s.known {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys[s.cap:] {
		delete(s.known, k)
	}
}

// TimesFor returns the recorded time list for a date, if any.
func (s *State) TimesFor(date string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.known[date]
	if !ok {
		return nil, false
	}
	return append([]string(nil), ts...), true
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.known))
	for k := range s.known {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	snap := Snapshot{
		Earliest:      s.earliest,
		LastCheckedAt: s.lastChecked,
		Dates:         make([]DateTimes, 0, len(keys)),
	}
	for _, k := range keys {
		snap.Dates = append(snap.Dates, DateTimes{
			Date:  k,
			Times: append([]string(nil), s.known[k]...),
		})
	}
	return snap
}
