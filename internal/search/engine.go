package search

import (
	"slices"
	"strings"
	"sync"

	"feedflow/internal/enablement"
	"feedflow/internal/feed"
	"feedflow/internal/merge"
)

// Source is the read side of the merge store.
type Source interface {
	Version() uint64
	Articles() []feed.Article
	Feeds() []merge.Feed
}

type memoKey struct {
	storeVersion      uint64
	enablementVersion uint64
	selection         Selection
	query             string
}

// Engine filters articles and remembers the last answer until one of its
// inputs changes.
type Engine struct {
	mu     sync.Mutex
	valid  bool
	key    memoKey
	result []string
	runs   int
}

func NewEngine() *Engine {
	return &Engine{}
}

// Filter returns the ids of visible articles, newest first. An article is
// visible when its feed is known, the feed and its category are enabled, it
// passes the selection and, for a non-empty query, its title or description
// contains the query after normalization.
func (e *Engine) Filter(src Source, flags enablement.Snapshot, sel Selection, query string) []string {
	key := memoKey{
		storeVersion:      src.Version(),
		enablementVersion: flags.Version,
		selection:         sel,
		query:             strings.TrimSpace(query),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.valid && e.key == key {
		return slices.Clone(e.result)
	}
	e.result = filterArticles(src.Articles(), src.Feeds(), flags, sel, key.query)
	e.key = key
	e.valid = true
	e.runs++
	return slices.Clone(e.result)
}

// Runs returns how many times Filter recomputed instead of reusing a result.
func (e *Engine) Runs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

func filterArticles(articles []feed.Article, feeds []merge.Feed, flags enablement.Snapshot, sel Selection, query string) []string {
	categories := make(map[string]string, len(feeds))
	for _, f := range feeds {
		categories[f.ID] = f.CategoryName()
	}
	normalizedQuery := Normalize(query)

	ids := make([]string, 0, len(articles))
	for _, article := range articles {
		category, ok := categories[article.FeedID]
		if !ok {
			continue
		}
		if !flags.FeedEnabled(article.FeedID) || !flags.CategoryEnabled(category) {
			continue
		}
		if !sel.Allows(article.FeedID, category) {
			continue
		}
		if normalizedQuery != "" && !matchesNormalized(normalizedQuery, article.Title, article.Description) {
			continue
		}
		ids = append(ids, article.ID)
	}
	return ids
}
