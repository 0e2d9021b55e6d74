// Package loader runs the fetch-parse adapter for every registered feed
// concurrently and hands each completion to the merge store as it arrives.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"golang.org/x/sync/errgroup"

	"feedflow/internal/feed"
	"feedflow/internal/registry"
)

const (
	DefaultAttempts      = 3
	DefaultRetryDelay    = time.Second
	DefaultMaxRetryDelay = 30 * time.Second
)

var ErrUnknownFeed = errors.New("unknown feed")

// Source loads one feed.
type Source interface {
	Load(ctx context.Context, desc registry.FeedDescriptor) (feed.Result, error)
}

// Sink receives completions. merge.Store implements it.
type Sink interface {
	Merge(desc registry.FeedDescriptor, result feed.Result) int
	MarkFailed(desc registry.FeedDescriptor, err error, at time.Time)
	BeginReplace(feedIDs []string)
}

// Descriptors is the read side of the registry.
type Descriptors interface {
	All() []registry.FeedDescriptor
	Get(id string) (registry.FeedDescriptor, bool)
}

// Recorder observes fetch outcomes. metrics.Metrics implements it.
type Recorder interface {
	FetchFinished(outcome string, duration time.Duration)
	FetchRetried()
	ArticlesMerged(n int)
}

// Notifier is told about failures of user-initiated refreshes once retries
// are exhausted.
type Notifier func(desc registry.FeedDescriptor, err error)

// Mode says how a batch of completions is merged.
type Mode int

const (
	// Append adds novel articles to what the store already holds.
	Append Mode = iota
	// Replace makes each feed's next success its complete article set.
	Replace
)

type Options struct {
	Clock         clock.Clock
	Attempts      int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// Concurrency limits simultaneous feed loads. Zero means one goroutine
	// per feed.
	Concurrency int
	// PollInterval is the base of the backoff applied to feeds that keep
	// failing background polls.
	PollInterval time.Duration
	Recorder     Recorder
	Notify       Notifier
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.WallClock
	}
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if o.Concurrency < 0 {
		o.Concurrency = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = feed.PollInterval
	}
	return o
}

// Summary describes one finished batch. Loads cut short by cancellation are
// counted in Canceled, not Failed.
type Summary struct {
	Succeeded int
	Failed    int
	Canceled  int
	Errors    map[string]error
}

type Loader struct {
	registry Descriptors
	source   Source
	sink     Sink
	opts     Options

	mu            sync.Mutex
	statuses      map[string]Status
	inFlight      map[string]int
	everSucceeded bool

	// commitMu orders completions against Forget so a feed removed while its
	// fetch was in flight is not merged back.
	commitMu sync.Mutex
}

func New(reg Descriptors, src Source, sink Sink, opts Options) *Loader {
	return &Loader{
		registry: reg,
		source:   src,
		sink:     sink,
		opts:     opts.withDefaults(),
		statuses: make(map[string]Status),
		inFlight: make(map[string]int),
	}
}

// LoadAll loads every registered feed in append mode and returns once all of
// them have completed.
func (l *Loader) LoadAll(ctx context.Context) Summary {
	return l.Load(ctx, l.registry.All(), Append, false)
}

// LoadDue loads, in append mode, every registered feed that is due for a
// background poll. Feeds that failed repeatedly wait until their backoff
// expires.
func (l *Loader) LoadDue(ctx context.Context) Summary {
	descs := l.registry.All()
	now := l.opts.Clock.Now()

	l.mu.Lock()
	due := make([]registry.FeedDescriptor, 0, len(descs))
	for _, desc := range descs {
		next := l.statuses[desc.ID].NextPollAt
		if next.IsZero() || !now.Before(next) {
			due = append(due, desc)
		}
	}
	l.mu.Unlock()

	if skipped := len(descs) - len(due); skipped > 0 {
		slog.Info("feeds backing off", "skipped", skipped, "due", len(due))
	}
	return l.Load(ctx, due, Append, false)
}

// RefetchAll reloads every registered feed from scratch. Each feed's next
// success replaces its articles. Failures are reported to the notifier.
func (l *Loader) RefetchAll(ctx context.Context) Summary {
	descs := l.registry.All()
	return l.Load(ctx, descs, Replace, true)
}

// RefetchOne reloads a single feed in append mode. Other feeds are not
// touched.
func (l *Loader) RefetchOne(ctx context.Context, feedID string) error {
	desc, ok := l.registry.Get(feedID)
	if !ok {
		return fmt.Errorf("refetch feed %q: %w", feedID, ErrUnknownFeed)
	}
	summary := l.Load(ctx, []registry.FeedDescriptor{desc}, Append, true)
	return summary.Errors[feedID]
}

// Load runs descs concurrently. Completions are delivered to the sink as each
// one finishes. One feed's failure never cancels another.
func (l *Loader) Load(ctx context.Context, descs []registry.FeedDescriptor, mode Mode, manual bool) Summary {
	start := l.opts.Clock.Now()
	if mode == Replace {
		ids := make([]string, 0, len(descs))
		for _, desc := range descs {
			ids = append(ids, desc.ID)
		}
		l.sink.BeginReplace(ids)
	}
	for _, desc := range descs {
		l.begin(desc.ID)
	}

	var (
		mu      sync.Mutex
		summary = Summary{Errors: make(map[string]error)}
		group   errgroup.Group
	)
	if l.opts.Concurrency > 0 {
		group.SetLimit(l.opts.Concurrency)
	}
	for _, desc := range descs {
		group.Go(func() error {
			err := l.loadOne(ctx, desc, manual)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Succeeded++
			case isCanceled(ctx, err):
				summary.Canceled++
				summary.Errors[desc.ID] = err
			default:
				summary.Failed++
				summary.Errors[desc.ID] = err
			}
			return nil
		})
	}
	_ = group.Wait()

	slog.Info("feed load batch finished",
		"feeds", len(descs),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"canceled", summary.Canceled,
		"replace", mode == Replace,
		"duration_ms", l.opts.Clock.Now().Sub(start).Milliseconds(),
	)
	return summary
}

func (l *Loader) loadOne(ctx context.Context, desc registry.FeedDescriptor, manual bool) error {
	start := l.opts.Clock.Now()
	attempts := 0
	var (
		result  feed.Result
		lastErr error
	)
	callErr := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			r, err := l.source.Load(ctx, desc)
			if err != nil {
				lastErr = err
				return err
			}
			result = r
			return nil
		},
		IsFatalError: func(err error) bool {
			return !feed.IsRetryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			if attempt >= l.opts.Attempts {
				return
			}
			l.recordRetry()
			slog.Warn("feed fetch retry",
				"feed_id", desc.ID,
				"feed_url", desc.URL,
				"attempt", attempt,
				"err", err,
			)
		},
		Attempts:    l.opts.Attempts,
		Delay:       l.opts.RetryDelay,
		MaxDelay:    l.opts.MaxRetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       l.opts.Clock,
		Stop:        ctx.Done(),
	})

	var err error
	switch {
	case callErr == nil:
	case lastErr != nil:
		err = lastErr
	default:
		err = callErr
	}

	l.finish(desc, result, err, isCanceled(ctx, err), attempts, manual, l.opts.Clock.Now().Sub(start))
	return err
}

// isCanceled reports whether err ended a load because ctx was cancelled
// rather than because the feed failed.
func isCanceled(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || ctx.Err() != nil
}

func (l *Loader) finish(desc registry.FeedDescriptor, result feed.Result, err error, canceled bool, attempts int, manual bool, duration time.Duration) {
	l.commitMu.Lock()
	_, registered := l.registry.Get(desc.ID)
	merged := 0
	if registered {
		switch {
		case err == nil:
			merged = l.sink.Merge(desc, result)
		case !canceled:
			l.sink.MarkFailed(desc, err, l.opts.Clock.Now())
		}
	}
	l.complete(desc.ID, err, canceled, attempts, registered)
	l.commitMu.Unlock()

	if !registered {
		slog.Info("feed load dropped for removed feed", "feed_id", desc.ID)
		return
	}
	if canceled {
		l.recordFetch("canceled", duration)
		slog.Info("feed load canceled",
			"feed_id", desc.ID,
			"attempts", attempts,
			"duration_ms", duration.Milliseconds(),
		)
		return
	}
	if err != nil {
		l.recordFetch(feed.Kind(err), duration)
		slog.Error("feed load failed",
			"feed_id", desc.ID,
			"feed_url", desc.URL,
			"attempts", attempts,
			"kind", feed.Kind(err),
			"duration_ms", duration.Milliseconds(),
			"err", err,
		)
		if manual && l.opts.Notify != nil {
			l.opts.Notify(desc, err)
		}
		return
	}
	l.recordFetch("success", duration)
	l.recordMerged(merged)
}

// Forget drops the status of a removed feed. Completions for it that arrive
// afterwards are discarded.
func (l *Loader) Forget(feedID string) {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.statuses, feedID)
}

func (l *Loader) recordFetch(outcome string, duration time.Duration) {
	if l.opts.Recorder != nil {
		l.opts.Recorder.FetchFinished(outcome, duration)
	}
}

func (l *Loader) recordRetry() {
	if l.opts.Recorder != nil {
		l.opts.Recorder.FetchRetried()
	}
}

func (l *Loader) recordMerged(n int) {
	if l.opts.Recorder != nil && n > 0 {
		l.opts.Recorder.ArticlesMerged(n)
	}
}
