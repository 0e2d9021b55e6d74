// Package merge is the authoritative in-memory store of feeds and articles.
//
// All mutation goes through Store methods, each of which holds the write lock
// for its whole check-and-insert so concurrent completions cannot double count
// an article.
package merge

import (
	"cmp"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"feedflow/internal/feed"
	"feedflow/internal/registry"
)

const maxErrorLength = 300

// Feed is the runtime state of one registered source.
type Feed struct {
	registry.FeedDescriptor
	Link        string    `json:"link,omitempty"`
	Image       string    `json:"image,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
	// ErrorCount only ever grows within a session.
	ErrorCount  int       `json:"errorCount"`
	LastError   string    `json:"lastError,omitempty"`
	LastErrorAt time.Time `json:"lastErrorAt"`
	// Loaded is true once any fetch of the feed has succeeded.
	Loaded bool `json:"loaded"`
}

// Failing reports whether the most recent fetch of the feed failed.
func (f Feed) Failing() bool {
	return f.LastError != ""
}

type Stats struct {
	Feeds        int
	Articles     int
	FailingFeeds int
}

type Store struct {
	mu        sync.RWMutex
	feeds     map[string]*Feed
	feedOrder []string
	articles  []feed.Article
	byID      map[string]int
	replacing map[string]struct{}
	version   uint64
}

func NewStore() *Store {
	return &Store{
		feeds:     make(map[string]*Feed),
		byID:      make(map[string]int),
		replacing: make(map[string]struct{}),
	}
}

// BeginReplace marks feedIDs so that the next successful Merge for each of
// them replaces that feed's articles instead of appending to them.
func (s *Store) BeginReplace(feedIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range feedIDs {
		s.replacing[id] = struct{}{}
	}
	slog.Debug("merge replace started", "feeds", len(feedIDs))
}

// ReplacePending returns the feeds still waiting for their replacing merge.
func (s *Store) ReplacePending() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.replacing))
	for id := range s.replacing {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Merge incorporates a successful load of desc and returns how many articles
// were new.
func (s *Store) Merge(desc registry.FeedDescriptor, result feed.Result) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.upsertFeedLocked(desc)
	if f.Title == "" {
		f.Title = result.Feed.Title
	}
	if result.Feed.Description != "" {
		f.Description = result.Feed.Description
	}
	if result.Feed.Link != "" {
		f.Link = result.Feed.Link
	}
	if result.Feed.Image != "" {
		f.Image = result.Feed.Image
	}
	f.LastUpdated = result.FetchedAt
	f.LastError = ""
	f.Loaded = true

	replaced := 0
	if _, ok := s.replacing[desc.ID]; ok {
		replaced = s.dropFeedArticlesLocked(desc.ID)
		delete(s.replacing, desc.ID)
	}

	added := 0
	for _, article := range result.Articles {
		if _, seen := s.byID[article.ID]; seen {
			continue
		}
		article.FeedID = desc.ID
		s.byID[article.ID] = len(s.articles)
		s.articles = append(s.articles, article)
		added++
	}
	if added > 0 || replaced > 0 {
		s.sortLocked()
	}
	s.version++

	slog.Debug("merge feed",
		"feed_id", desc.ID,
		"items_in_feed", len(result.Articles),
		"items_new", added,
		"items_replaced", replaced,
		"articles_total", len(s.articles),
	)
	return added
}

// MarkFailed records a failed load. Previously merged articles stay intact and
// a pending replace for the feed is abandoned.
func (s *Store) MarkFailed(desc registry.FeedDescriptor, err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.upsertFeedLocked(desc)
	f.ErrorCount++
	f.LastErrorAt = at
	if err != nil {
		f.LastError = truncateString(err.Error(), maxErrorLength)
	} else {
		f.LastError = "unknown error"
	}
	delete(s.replacing, desc.ID)
	s.version++
}

// Remove deletes the feed and every article it contributed.
func (s *Store) Remove(feedID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.feeds[feedID]; !ok {
		return false
	}
	dropped := s.dropFeedArticlesLocked(feedID)
	delete(s.feeds, feedID)
	delete(s.replacing, feedID)
	s.feedOrder = slices.DeleteFunc(s.feedOrder, func(id string) bool { return id == feedID })
	s.version++
	slog.Info("merge feed removed", "feed_id", feedID, "items_removed", dropped)
	return true
}

// Feeds returns feeds in the order they were first seen.
func (s *Store) Feeds() []Feed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Feed, 0, len(s.feedOrder))
	for _, id := range s.feedOrder {
		out = append(out, *s.feeds[id])
	}
	return out
}

func (s *Store) Feed(id string) (Feed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.feeds[id]
	if !ok {
		return Feed{}, false
	}
	return *f, true
}

// Articles returns every article newest first.
func (s *Store) Articles() []feed.Article {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.articles)
}

func (s *Store) Article(id string) (feed.Article, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return feed.Article{}, false
	}
	return s.articles[idx], true
}

// Version changes whenever feeds or articles change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// AnyLoaded reports whether at least one feed has ever loaded successfully.
func (s *Store) AnyLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.feeds {
		if f.Loaded {
			return true
		}
	}
	return false
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{Feeds: len(s.feeds), Articles: len(s.articles)}
	for _, f := range s.feeds {
		if f.Failing() {
			stats.FailingFeeds++
		}
	}
	return stats
}

func (s *Store) upsertFeedLocked(desc registry.FeedDescriptor) *Feed {
	f, ok := s.feeds[desc.ID]
	if !ok {
		f = &Feed{FeedDescriptor: desc}
		s.feeds[desc.ID] = f
		s.feedOrder = append(s.feedOrder, desc.ID)
		return f
	}
	title, description := f.Title, f.Description
	f.FeedDescriptor = desc
	if f.Title == "" {
		f.Title = title
	}
	if description != "" {
		f.Description = description
	}
	return f
}

func (s *Store) dropFeedArticlesLocked(feedID string) int {
	before := len(s.articles)
	s.articles = slices.DeleteFunc(s.articles, func(a feed.Article) bool {
		return a.FeedID == feedID
	})
	if dropped := before - len(s.articles); dropped > 0 {
		s.reindexLocked()
		return dropped
	}
	return 0
}

// sortLocked orders articles newest first. The sort is stable, so equal
// timestamps keep insertion order.
func (s *Store) sortLocked() {
	slices.SortStableFunc(s.articles, func(a, b feed.Article) int {
		return cmp.Compare(b.PubDate.UnixNano(), a.PubDate.UnixNano())
	})
	s.reindexLocked()
}

func (s *Store) reindexLocked() {
	clear(s.byID)
	for i, article := range s.articles {
		s.byID[article.ID] = i
	}
}

func truncateString(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return strings.ToValidUTF8(value[:max], "")
}
