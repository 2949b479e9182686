// Package cache holds the in-process store of the latest successfully
// fetched payload per dataset. All state is memory-resident and rebuilt from
// scratch on restart.
package cache

import (
	"sync"
	"time"
)

// Entry is one committed payload stamped with its fetch time.
type Entry struct {
	Payload   any
	FetchedAt time.Time
}

// Store is a keyed snapshot store. Writes replace entries atomically; the
// service serializes writes per key, reads may come from any goroutine.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// WithClock overrides the wall-clock source used for stamping and staleness.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Get returns the latest committed entry for key.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// Set commits payload under key, stamped with the current time. A reader
// observes either the previous entry or the new one, never a mix.
func (s *Store) Set(key string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = Entry{Payload: payload, FetchedAt: s.now()}
}

// IsStale reports whether key needs a refresh: true when absent or when the
// entry's age has reached ttl.
func (s *Store) IsStale(key string, ttl time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return true
	}
	return s.now().Sub(e.FetchedAt) >= ttl
}

// LastFetch returns the most recent fetch time across all entries.
func (s *Store) LastFetch() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest time.Time
	for _, e := range s.entries {
		if e.FetchedAt.After(latest) {
			latest = e.FetchedAt
		}
	}
	return latest, !latest.IsZero()
}

// Clear removes the given keys, or every entry when no keys are given.
// Failed refreshes never call this; eviction is always explicit.
func (s *Store) Clear(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(keys) == 0 {
		s.entries = make(map[string]Entry)
		return
	}
	for _, key := range keys {
		delete(s.entries, key)
	}
}
