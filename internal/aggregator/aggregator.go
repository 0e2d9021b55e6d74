// Package aggregator is the read and command surface over the feed pipeline:
// registry, loader, merge store, enablement flags, search and pagination.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"feedflow/internal/enablement"
	"feedflow/internal/feed"
	"feedflow/internal/loader"
	"feedflow/internal/merge"
	"feedflow/internal/registry"
	"feedflow/internal/search"
	"feedflow/internal/window"
)

var (
	ErrUnknownFeed     = errors.New("unknown feed")
	ErrUnknownCategory = errors.New("unknown category")
	ErrDuplicateFeed   = errors.New("feed already subscribed")
	errAlreadyStarted  = errors.New("polling already started")
)

// Persister stores registry changes made at runtime. store.Subscriptions
// implements it.
type Persister interface {
	SaveFeed(ctx context.Context, desc registry.FeedDescriptor) error
	DeleteFeed(ctx context.Context, feedID string) error
	UpdateFeedOrder(ctx context.Context, orderedFeedIDs []string) error
}

type Options struct {
	Clock    clock.Clock
	Window   window.Config
	Debounce time.Duration
	// Loader configures retries and fan-out. Its Notify is replaced by the
	// aggregator's notice queue.
	Loader       loader.Options
	PollInterval time.Duration
	PollJitter   bool
	// Persister may be nil, in which case changes live only in memory.
	Persister Persister
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	clock     clock.Clock
	registry  *registry.Registry
	store     *merge.Store
	flags     *enablement.State
	loader    *loader.Loader
	poller    *loader.Poller
	engine    *search.Engine
	window    *window.Window
	query     *search.Debouncer
	persister Persister

	mu        sync.Mutex
	selection search.Selection
	notices   []Notice
	noticeSeq int
	polling   bool

	wg sync.WaitGroup
}

func New(reg *registry.Registry, source loader.Source, opts Options) *Aggregator {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Debounce == 0 {
		opts.Debounce = search.DefaultDebounce
	}
	a := &Aggregator{
		clock:     opts.Clock,
		registry:  reg,
		store:     merge.NewStore(),
		flags:     enablement.New(),
		engine:    search.NewEngine(),
		window:    window.New(opts.Clock, opts.Window),
		query:     search.NewDebouncer(opts.Clock, opts.Debounce),
		persister: opts.Persister,
	}

	loaderOpts := opts.Loader
	loaderOpts.Clock = opts.Clock
	loaderOpts.Notify = a.notify
	if loaderOpts.PollInterval == 0 {
		loaderOpts.PollInterval = opts.PollInterval
	}
	a.loader = loader.New(reg, source, sink{a}, loaderOpts)
	a.poller = loader.NewPoller(a.loader, loader.PollerOptions{
		Interval: opts.PollInterval,
		Jitter:   opts.PollJitter,
		Clock:    opts.Clock,
	})
	return a
}

// sink marks feeds as observed by the enablement state as they merge.
type sink struct {
	a *Aggregator
}

func (s sink) Merge(desc registry.FeedDescriptor, result feed.Result) int {
	added := s.a.store.Merge(desc, result)
	s.a.flags.Observe(desc.ID, desc.CategoryName())
	return added
}

func (s sink) MarkFailed(desc registry.FeedDescriptor, err error, at time.Time) {
	s.a.store.MarkFailed(desc, err, at)
	s.a.flags.Observe(desc.ID, desc.CategoryName())
}

func (s sink) BeginReplace(feedIDs []string) {
	s.a.store.BeginReplace(feedIDs)
}

// Store exposes the merge store for read-only collaborators such as metrics.
func (a *Aggregator) Store() *merge.Store {
	return a.store
}

// Start runs background polling until ctx is done. The first cycle starts
// immediately.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.polling {
		return errAlreadyStarted
	}
	a.polling = true
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.poller.Run(ctx)
	}()
	return nil
}

// Wait blocks until polling started by Start has stopped.
func (a *Aggregator) Wait() {
	a.wg.Wait()
}

// LoadAll loads every feed once in append mode.
func (a *Aggregator) LoadAll(ctx context.Context) loader.Summary {
	return a.loader.LoadAll(ctx)
}

// Refresh reloads every feed from scratch. Each feed's articles are replaced
// by its next successful result; failed feeds keep what they had.
func (a *Aggregator) Refresh(ctx context.Context) loader.Summary {
	return a.loader.RefetchAll(ctx)
}

// RefreshOne reloads a single feed without touching the others.
func (a *Aggregator) RefreshOne(ctx context.Context, feedID string) error {
	err := a.loader.RefetchOne(ctx, feedID)
	if errors.Is(err, loader.ErrUnknownFeed) {
		return fmt.Errorf("refresh %q: %w", feedID, ErrUnknownFeed)
	}
	return err
}

// view is one consistent evaluation of the filter inputs.
type view struct {
	ids       []string
	selection search.Selection
	query     string
}

func (a *Aggregator) current() view {
	a.mu.Lock()
	sel := a.selection
	a.mu.Unlock()
	flags := a.flags.Snapshot()
	query := a.query.Settled()

	ids := a.engine.Filter(a.store, flags, sel, query)
	a.window.Sync(filterKey(sel, flags.Version, query))
	return view{ids: ids, selection: sel, query: query}
}

func filterKey(sel search.Selection, flagsVersion uint64, query string) string {
	return fmt.Sprintf("%s\x00%s\x00%d\x00%s", sel.FeedID, sel.Category, flagsVersion, query)
}

// VisibleArticles returns the articles currently shown, newest first.
func (a *Aggregator) VisibleArticles() []feed.Article {
	return a.window.Visible(a.current().ids, a.store.Article)
}

// TotalAvailable is the number of articles matching the current filters.
func (a *Aggregator) TotalAvailable() int {
	return len(a.current().ids)
}

func (a *Aggregator) HasMore() bool {
	return a.window.HasMore(len(a.current().ids))
}

// LoadMore asks for the next page. It reports whether a load was started.
func (a *Aggregator) LoadMore() bool {
	total := len(a.current().ids)
	return a.window.LoadMore(total, a.query.IsPending())
}

// IsLoading is true while a LoadMore is waiting to commit.
func (a *Aggregator) IsLoading() bool {
	a.current()
	return a.window.IsLoading()
}

func (a *Aggregator) IsFetching() bool {
	return a.loader.IsFetching()
}

func (a *Aggregator) IsInitialLoading() bool {
	return a.loader.IsInitialLoading()
}

// IsSearching is true while the typed query has not settled yet.
func (a *Aggregator) IsSearching() bool {
	return a.query.IsPending()
}

// Search sets the raw query. It applies once it has been quiet for the
// debounce delay.
func (a *Aggregator) Search(query string) {
	a.query.Set(query)
}

// FlushSearch applies the raw query immediately.
func (a *Aggregator) FlushSearch() {
	a.query.Flush()
}

// Query returns the raw and the applied query.
func (a *Aggregator) Query() (raw, settled string) {
	return a.query.Raw(), a.query.Settled()
}

func (a *Aggregator) Selection() search.Selection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selection
}

// SelectFeed shows only feedID. An empty id clears the selection.
func (a *Aggregator) SelectFeed(feedID string) error {
	if feedID != "" {
		if _, ok := a.registry.Get(feedID); !ok {
			return fmt.Errorf("select feed %q: %w", feedID, ErrUnknownFeed)
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selection.SelectFeed(feedID)
	return nil
}

// SelectCategory shows only feeds in category. An empty name clears the
// selection.
func (a *Aggregator) SelectCategory(category string) error {
	if category != "" && len(a.registry.FeedIDsInCategory(category)) == 0 {
		return fmt.Errorf("select category %q: %w", category, ErrUnknownCategory)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selection.SelectCategory(category)
	return nil
}

func (a *Aggregator) ClearSelection() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selection.Clear()
}

func (a *Aggregator) ToggleFeed(feedID string, enabled bool) error {
	if _, ok := a.registry.Get(feedID); !ok {
		return fmt.Errorf("toggle feed %q: %w", feedID, ErrUnknownFeed)
	}
	a.flags.ToggleFeed(feedID, enabled)
	slog.Info("feed toggled", "feed_id", feedID, "enabled", enabled)
	return nil
}

// ToggleCategory sets the category flag and overwrites the flag of every
// registered feed in it.
func (a *Aggregator) ToggleCategory(category string, enabled bool) error {
	ids := a.registry.FeedIDsInCategory(category)
	if len(ids) == 0 {
		return fmt.Errorf("toggle category %q: %w", category, ErrUnknownCategory)
	}
	a.flags.ToggleCategory(category, enabled, ids)
	slog.Info("category toggled", "category", category, "enabled", enabled, "feeds", len(ids))
	return nil
}

func (a *Aggregator) Enablement() enablement.Snapshot {
	return a.flags.Snapshot()
}

// FeedState is one registered feed with its runtime state. Feeds that have
// never loaded carry only their descriptor.
type FeedState struct {
	merge.Feed
	Enabled  bool
	Articles int
	Status   loader.Status
}

// Feeds lists every registered feed in registry order.
func (a *Aggregator) Feeds() []FeedState {
	counts := make(map[string]int)
	for _, article := range a.store.Articles() {
		counts[article.FeedID]++
	}
	flags := a.flags.Snapshot()
	statuses := a.loader.Statuses()

	descs := a.registry.All()
	out := make([]FeedState, 0, len(descs))
	for _, desc := range descs {
		f, ok := a.store.Feed(desc.ID)
		if !ok {
			f = merge.Feed{FeedDescriptor: desc}
		}
		stored := f.FeedDescriptor
		f.FeedDescriptor = desc
		if f.Title == "" {
			f.Title = stored.Title
		}
		if f.Description == "" {
			f.Description = stored.Description
		}
		out = append(out, FeedState{
			Feed:     f,
			Enabled:  flags.FeedEnabled(desc.ID) && flags.CategoryEnabled(desc.CategoryName()),
			Articles: counts[desc.ID],
			Status:   statuses[desc.ID],
		})
	}
	return out
}

// Feed returns the stored runtime state of one feed.
func (a *Aggregator) Feed(feedID string) (merge.Feed, bool) {
	return a.store.Feed(feedID)
}

// CategoryState is one category and how many registered feeds it holds.
type CategoryState struct {
	Name    string
	Enabled bool
	Feeds   int
}

// Categories lists categories in order of their first registered feed.
func (a *Aggregator) Categories() []CategoryState {
	flags := a.flags.Snapshot()
	names := a.registry.Categories()
	out := make([]CategoryState, 0, len(names))
	for _, name := range names {
		out = append(out, CategoryState{
			Name:    name,
			Enabled: flags.CategoryEnabled(name),
			Feeds:   len(a.registry.FeedIDsInCategory(name)),
		})
	}
	return out
}

// PageState is the page-level error shown only when no feed has ever loaded.
type PageState struct {
	AllFailed bool
	Message   string
}

func (a *Aggregator) PageState() PageState {
	if a.store.AnyLoaded() || !a.loader.AllFailed() {
		return PageState{}
	}
	message := "None of your feeds could be loaded."
	for _, desc := range a.registry.All() {
		if status := a.loader.Status(desc.ID); status.Err != nil {
			message += " " + feed.UserMessage(status.Err)
			break
		}
	}
	return PageState{AllFailed: true, Message: message}
}

// Now reads the aggregator's clock.
func (a *Aggregator) Now() time.Time {
	return a.clock.Now()
}

func (a *Aggregator) Stats() merge.Stats {
	return a.store.Stats()
}

// Replacing lists the feeds a refresh-all is still waiting on. Their current
// articles are dropped by their next successful load.
func (a *Aggregator) Replacing() []string {
	return a.store.ReplacePending()
}

func (a *Aggregator) AllFailed() bool {
	return a.loader.AllFailed()
}
