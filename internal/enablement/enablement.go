// Package enablement tracks which feeds and categories are visible.
//
// A key that was never set is enabled. Every read goes through IsEnabled so
// that rule lives in one place.
package enablement

import (
	"maps"
	"sync"
)

// IsEnabled resolves key in m, treating an absent key as enabled.
func IsEnabled(m map[string]bool, key string) bool {
	enabled, ok := m[key]
	return !ok || enabled
}

// State holds per-feed and per-category flags. It is safe for concurrent use.
type State struct {
	mu         sync.RWMutex
	feeds      map[string]bool
	categories map[string]bool
	version    uint64
}

func New() *State {
	return &State{
		feeds:      make(map[string]bool),
		categories: make(map[string]bool),
	}
}

func (s *State) FeedEnabled(feedID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return IsEnabled(s.feeds, feedID)
}

func (s *State) CategoryEnabled(category string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return IsEnabled(s.categories, category)
}

// ToggleFeed sets exactly one feed's flag.
func (s *State) ToggleFeed(feedID string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(s.feeds, feedID, enabled)
}

// ToggleCategory sets the category flag and overwrites the flag of every feed
// in feedIDs to match.
func (s *State) ToggleCategory(category string, enabled bool, feedIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(s.categories, category, enabled)
	for _, id := range feedIDs {
		s.setLocked(s.feeds, id, enabled)
	}
}

// Observe records a feed and its category the first time they are seen.
// Existing choices are left alone.
func (s *State) Observe(feedID, category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.feeds[feedID]; !ok {
		s.feeds[feedID] = true
	}
	if _, ok := s.categories[category]; !ok {
		s.categories[category] = true
	}
}

// Forget drops the feed's flag.
func (s *State) Forget(feedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled, ok := s.feeds[feedID]; ok {
		delete(s.feeds, feedID)
		if !enabled {
			s.version++
		}
	}
}

// ForgetCategory drops the category's flag.
func (s *State) ForgetCategory(category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled, ok := s.categories[category]; ok {
		delete(s.categories, category)
		if !enabled {
			s.version++
		}
	}
}

// Version changes only when the effective visibility of some key changes.
func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot is a consistent copy of the flags.
type Snapshot struct {
	Feeds      map[string]bool `json:"feeds"`
	Categories map[string]bool `json:"categories"`
	Version    uint64          `json:"version"`
}

func (s Snapshot) FeedEnabled(feedID string) bool {
	return IsEnabled(s.Feeds, feedID)
}

func (s Snapshot) CategoryEnabled(category string) bool {
	return IsEnabled(s.Categories, category)
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Feeds:      maps.Clone(s.feeds),
		Categories: maps.Clone(s.categories),
		Version:    s.version,
	}
}

func (s *State) setLocked(m map[string]bool, key string, enabled bool) {
	if IsEnabled(m, key) != enabled {
		s.version++
	}
	m[key] = enabled
}
