// Package window exposes a growing, capped prefix of the filtered article
// sequence.
package window

import (
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"feedflow/internal/feed"
)

const (
	DefaultPageSize  = 15
	DefaultCap       = 300
	DefaultLoadDelay = 100 * time.Millisecond
)

type Config struct {
	PageSize int
	// Cap bounds how many articles are ever materialized.
	Cap int
	// LoadDelay is how long LoadMore reports loading before the next page
	// becomes visible.
	LoadDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Cap <= 0 {
		c.Cap = DefaultCap
	}
	if c.LoadDelay < 0 {
		c.LoadDelay = 0
	}
	return c
}

// Lookup resolves an article id against the merge store.
type Lookup func(id string) (feed.Article, bool)

// Window tracks the page index for one consumer. The page index resets
// whenever the filter key changes. A load started by LoadMore commits once
// its deadline on the injected clock has passed.
type Window struct {
	mu           sync.Mutex
	clock        clock.Clock
	cfg          Config
	pageIndex    int
	filterKey    string
	loadingUntil time.Time
}

func New(clk clock.Clock, cfg Config) *Window {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Window{clock: clk, cfg: cfg.withDefaults()}
}

func (w *Window) Config() Config {
	return w.cfg
}

// Sync applies the current filter key. A different key returns the window to
// the first page and abandons any load in progress.
func (w *Window) Sync(filterKey string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if filterKey == w.filterKey {
		return
	}
	w.filterKey = filterKey
	w.pageIndex = 0
	w.loadingUntil = time.Time{}
}

// LoadMore starts loading the next page. It refuses while a load is running,
// while the query is still settling, or when nothing more can be shown.
func (w *Window) LoadMore(total int, searching bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advanceLocked()
	if !w.loadingUntil.IsZero() || searching || !w.hasMoreLocked(total) {
		return false
	}
	if w.cfg.LoadDelay == 0 {
		w.pageIndex++
		return true
	}
	w.loadingUntil = w.clock.Now().Add(w.cfg.LoadDelay)
	slog.Debug("window load more", "page_index", w.pageIndex+1, "total", total)
	return true
}

func (w *Window) IsLoading() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advanceLocked()
	return !w.loadingUntil.IsZero()
}

func (w *Window) PageIndex() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advanceLocked()
	return w.pageIndex
}

// Shown is how many of total filtered articles are visible. It never exceeds
// total or the cap.
func (w *Window) Shown(total int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advanceLocked()
	return w.shownLocked(total)
}

// HasMore is true iff the shown count is below both total and the cap.
func (w *Window) HasMore(total int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advanceLocked()
	return w.hasMoreLocked(total)
}

// Visible materializes the shown prefix of ids. Ids that no longer resolve
// are skipped.
func (w *Window) Visible(ids []string, lookup Lookup) []feed.Article {
	shown := w.Shown(len(ids))
	out := make([]feed.Article, 0, shown)
	for _, id := range ids[:shown] {
		if article, ok := lookup(id); ok {
			out = append(out, article)
		}
	}
	return out
}

func (w *Window) shownLocked(total int) int {
	return min((w.pageIndex+1)*w.cfg.PageSize, total, w.cfg.Cap)
}

func (w *Window) hasMoreLocked(total int) bool {
	shown := w.shownLocked(total)
	return shown < total && shown < w.cfg.Cap
}

func (w *Window) advanceLocked() {
	if w.loadingUntil.IsZero() || w.clock.Now().Before(w.loadingUntil) {
		return
	}
	w.pageIndex++
	w.loadingUntil = time.Time{}
}
