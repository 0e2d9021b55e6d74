package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/juju/clock/testclock"

	"feedflow/internal/feed"
	"feedflow/internal/merge"
	"feedflow/internal/registry"
)

const waitTimeout = 5 * time.Second

var (
	epoch     = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	errDown   = &feed.HTTPStatusError{URL: "https://down.example.com/rss", StatusCode: http.StatusServiceUnavailable}
	errGone   = &feed.HTTPStatusError{URL: "https://gone.example.com/rss", StatusCode: http.StatusNotFound}
	errBroken = &feed.ParseError{Err: errors.New("no channel element found")}
)

type step func(call int) (feed.Result, error)

type scriptedSource struct {
	mu     sync.Mutex
	calls  map[string]int
	script map[string]step
	gates  map[string]chan struct{}
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		calls:  make(map[string]int),
		script: make(map[string]step),
		gates:  make(map[string]chan struct{}),
	}
}

func (s *scriptedSource) set(feedID string, fn step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[feedID] = fn
}

func (s *scriptedSource) hold(feedID string) func() {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates[feedID] = gate
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (s *scriptedSource) Load(ctx context.Context, desc registry.FeedDescriptor) (feed.Result, error) {
	s.mu.Lock()
	s.calls[desc.ID]++
	call := s.calls[desc.ID]
	fn := s.script[desc.ID]
	gate := s.gates[desc.ID]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return feed.Result{}, &feed.TransportError{URL: desc.URL, Err: ctx.Err()}
		}
	}
	if fn == nil {
		return feed.Result{}, errGone
	}
	return fn(call)
}

func (s *scriptedSource) callCount(feedID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[feedID]
}

func articles(feedID string, n int) feed.Result {
	out := make([]feed.Article, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, feed.Article{
			ID:      fmt.Sprintf("%s-%d", feedID, i),
			FeedID:  feedID,
			Title:   fmt.Sprintf("%s %d", feedID, i),
			PubDate: epoch.Add(-time.Duration(i) * time.Minute),
		})
	}
	return feed.Result{Feed: feed.FeedMeta{ID: feedID}, Articles: out, FetchedAt: epoch}
}

func always(result feed.Result) step {
	return func(int) (feed.Result, error) { return result, nil }
}

func failing(err error) step {
	return func(int) (feed.Result, error) { return feed.Result{}, err }
}

func descriptors(ids ...string) []registry.FeedDescriptor {
	out := make([]registry.FeedDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, registry.FeedDescriptor{ID: id, URL: "https://" + id + ".example.com/rss", Title: id})
	}
	return out
}

type fixture struct {
	reg    *registry.Registry
	source *scriptedSource
	store  *merge.Store
	loader *Loader
}

func newFixture(t *testing.T, opts Options, ids ...string) *fixture {
	t.Helper()
	reg, err := registry.New(descriptors(ids...))
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	source := newScriptedSource()
	store := merge.NewStore()
	return &fixture{reg: reg, source: source, store: store, loader: New(reg, source, store, opts)}
}

func countByFeed(store *merge.Store) map[string]int {
	counts := make(map[string]int)
	for _, article := range store.Articles() {
		counts[article.FeedID]++
	}
	return counts
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPartialFailureResilience(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, "one", "two", "three")
	f.source.set("one", always(articles("one", 2)))
	f.source.set("two", failing(errDown))
	f.source.set("three", always(articles("three", 3)))

	summary := f.loader.LoadAll(context.Background())
	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	counts := countByFeed(f.store)
	if counts["one"] != 2 || counts["three"] != 3 || counts["two"] != 0 {
		t.Fatalf("unexpected article counts %v", counts)
	}
	two, ok := f.store.Feed("two")
	if !ok || two.ErrorCount == 0 {
		t.Fatalf("expected failing feed with error count, got %+v", two)
	}
	if f.loader.ErrorCount() != 1 || !f.loader.IsError() {
		t.Fatal("expected one feed in error state")
	}
	if f.loader.AllFailed() || f.loader.IsInitialLoading() || f.loader.IsFetching() {
		t.Fatal("unexpected aggregate state after a partial failure")
	}
}

func TestRetryTransientThenSucceed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, "flaky")
	f.source.set("flaky", func(call int) (feed.Result, error) {
		if call < 3 {
			return feed.Result{}, errDown
		}
		return articles("flaky", 1), nil
	})

	summary := f.loader.LoadAll(context.Background())
	if summary.Succeeded != 1 {
		t.Fatalf("expected success after retries, got %+v", summary)
	}
	if got := f.source.callCount("flaky"); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if status := f.loader.Status("flaky"); status.State != Success || status.Attempts != 3 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestNonRetryableFailsFast(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, "gone", "broken")
	f.source.set("gone", failing(errGone))
	f.source.set("broken", failing(errBroken))

	summary := f.loader.LoadAll(context.Background())
	if summary.Failed != 2 {
		t.Fatalf("expected both to fail, got %+v", summary)
	}
	if f.source.callCount("gone") != 1 || f.source.callCount("broken") != 1 {
		t.Fatal("4xx and parse failures must not be retried")
	}
	var status *feed.HTTPStatusError
	if !errors.As(summary.Errors["gone"], &status) {
		t.Fatalf("expected the typed error to survive, got %v", summary.Errors["gone"])
	}
	if !f.loader.AllFailed() {
		t.Fatal("expected all-failed state")
	}
}

func TestRetryExhausted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, "down")
	f.source.set("down", failing(errDown))

	f.loader.LoadAll(context.Background())
	if got := f.source.callCount("down"); got != DefaultAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultAttempts, got)
	}
	status := f.loader.Status("down")
	if status.State != Failed || !errors.Is(status.Err, errDown) {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRetryBackoffDoubles(t *testing.T) {
	t.Parallel()

	clk := testclock.NewClock(epoch)
	f := newFixture(t, Options{Clock: clk, RetryDelay: time.Second}, "slow")
	f.source.set("slow", func(call int) (feed.Result, error) {
		if call < 3 {
			return feed.Result{}, errDown
		}
		return articles("slow", 1), nil
	})

	done := make(chan Summary, 1)
	go func() { done <- f.loader.LoadAll(context.Background()) }()

	if err := clk.WaitAdvance(time.Second, waitTimeout, 1); err != nil {
		t.Fatalf("first backoff: %v", err)
	}
	if err := clk.WaitAdvance(2*time.Second-time.Nanosecond, waitTimeout, 1); err != nil {
		t.Fatalf("second backoff: %v", err)
	}
	select {
	case <-done:
		t.Fatal("second retry fired before the doubled delay elapsed")
	case <-time.After(20 * time.Millisecond):
	}
	clk.Advance(time.Nanosecond)

	select {
	case summary := <-done:
		if summary.Succeeded != 1 {
			t.Fatalf("unexpected summary %+v", summary)
		}
	case <-time.After(waitTimeout):
		t.Fatal("load did not finish")
	}
}

func TestIncrementalDelivery(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, "fast", "held")
	f.source.set("fast", always(articles("fast", 2)))
	f.source.set("held", always(articles("held", 2)))
	release := f.source.hold("held")
	defer release()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.loader.LoadAll(context.Background())
	}()

	waitFor(t, "fast feed to merge", func() bool { return countByFeed(f.store)["fast"] == 2 })
	if !f.loader.IsFetching() {
		t.Fatal("expected held feed to still be in flight")
	}
	if f.loader.IsInitialLoading() {
		t.Fatal("initial loading ends with the first success")
	}
	if f.loader.Status("held").State != Pending {
		t.Fatalf("expected held feed pending, got %v", f.loader.Status("held").State)
	}

	release()
	<-done
	if countByFeed(f.store)["held"] != 2 || f.loader.IsFetching() {
		t.Fatal("expected held feed merged once released")
	}
}

func TestInitialLoadingState(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, "a")
	if !f.loader.IsInitialLoading() {
		t.Fatal("expected initial loading before the first load")
	}
	f.source.set("a", failing(errGone))
	f.loader.LoadAll(context.Background())
	if f.loader.IsInitialLoading() {
		t.Fatal("a failed first load ends initial loading")
	}

	empty := newFixture(t, Options{})
	if empty.loader.IsInitialLoading() || empty.loader.AllFailed() {
		t.Fatal("no feeds means nothing to wait for")
	}
}

func TestRefetchAllReplaces(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, "shrinking", "steady")
	f.source.set("shrinking", always(articles("shrinking", 5)))
	f.source.set("steady", always(articles("steady", 3)))
	f.loader.LoadAll(context.Background())

	shrunk := articles("shrinking", 2)
	shrunk.Articles[0].ID = "shrinking-fresh"
	f.source.set("shrinking", always(shrunk))

	f.loader.LoadAll(context.Background())
	if got := countByFeed(f.store)["shrinking"]; got != 6 {
		t.Fatalf("background loads append, expected 6, got %d", got)
	}

	f.loader.RefetchAll(context.Background())
	counts := countByFeed(f.store)
	if counts["shrinking"] != 2 {
		t.Fatalf("expected exactly 2 articles after replace, got %d", counts["shrinking"])
	}
	if counts["steady"] != 3 {
		t.Fatalf("sibling feed changed: %d", counts["steady"])
	}
}

func TestRefetchOne(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, "a", "b")
	f.source.set("a", always(articles("a", 1)))
	f.source.set("b", always(articles("b", 1)))

	if err := f.loader.RefetchOne(context.Background(), "a"); err != nil {
		t.Fatalf("RefetchOne: %v", err)
	}
	if f.source.callCount("b") != 0 {
		t.Fatal("refetching one feed touched another")
	}
	if err := f.loader.RefetchOne(context.Background(), "missing"); !errors.Is(err, ErrUnknownFeed) {
		t.Fatalf("expected ErrUnknownFeed, got %v", err)
	}
}

func TestNotifierOnlyForManualRefresh(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		notified []string
	)
	notify := func(desc registry.FeedDescriptor, err error) {
		mu.Lock()
		defer mu.Unlock()
		notified = append(notified, desc.ID)
	}
	f := newFixture(t, Options{Notify: notify}, "bad")
	f.source.set("bad", failing(errGone))

	f.loader.LoadAll(context.Background())
	mu.Lock()
	if len(notified) != 0 {
		t.Fatalf("background failures must stay silent, got %v", notified)
	}
	mu.Unlock()

	if err := f.loader.RefetchOne(context.Background(), "bad"); err == nil {
		t.Fatal("expected error")
	}
	f.loader.RefetchAll(context.Background())
	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 2 {
		t.Fatalf("expected two notices, got %v", notified)
	}
}

func TestRemovedFeedIsNotMergedBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{}, "doomed")
	f.source.set("doomed", always(articles("doomed", 2)))
	release := f.source.hold("doomed")

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.loader.LoadAll(context.Background())
	}()
	waitFor(t, "load to start", func() bool { return f.source.callCount("doomed") == 1 })

	if err := f.reg.Remove("doomed"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	f.loader.Forget("doomed")
	release()
	<-done

	if _, ok := f.store.Feed("doomed"); ok {
		t.Fatal("removed feed was merged back")
	}
	if len(f.loader.Statuses()) != 0 {
		t.Fatal("expected no statuses for removed feed")
	}
}

func TestConcurrencyLimit(t *testing.T) {
	t.Parallel()

	ids := []string{"a", "b", "c", "d"}
	f := newFixture(t, Options{Concurrency: 1}, ids...)
	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	for _, id := range ids {
		f.source.set(id, func(int) (feed.Result, error) {
			mu.Lock()
			running++
			peak = max(peak, running)
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return articles(id, 1), nil
		})
	}
	f.loader.LoadAll(context.Background())
	if peak != 1 {
		t.Fatalf("expected at most one load at a time, peak %d", peak)
	}
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	retries  int
	merged   int
}

func (c *countingRecorder) FetchFinished(outcome string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[outcome]++
}

func (c *countingRecorder) FetchRetried() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries++
}

func (c *countingRecorder) ArticlesMerged(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.merged += n
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	recorder := &countingRecorder{outcomes: make(map[string]int)}
	f := newFixture(t, Options{Recorder: recorder}, "ok", "down")
	f.source.set("ok", always(articles("ok", 4)))
	f.source.set("down", failing(errDown))
	f.loader.LoadAll(context.Background())

	if recorder.outcomes["success"] != 1 || recorder.outcomes[feed.KindHTTP] != 1 {
		t.Fatalf("unexpected outcomes %v", recorder.outcomes)
	}
	if recorder.retries != DefaultAttempts-1 {
		t.Fatalf("expected %d retries, got %d", DefaultAttempts-1, recorder.retries)
	}
	if recorder.merged != 4 {
		t.Fatalf("expected 4 merged, got %d", recorder.merged)
	}
}

func TestPoller(t *testing.T) {
	t.Parallel()

	clk := testclock.NewClock(epoch)
	f := newFixture(t, Options{Clock: clk}, "polled")
	f.source.set("polled", func(call int) (feed.Result, error) {
		return articles("polled", call), nil
	})
	poller := NewPoller(f.loader, PollerOptions{Interval: time.Minute, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		poller.Run(ctx)
	}()

	if err := clk.WaitAdvance(time.Minute, waitTimeout, 1); err != nil {
		t.Fatalf("first interval: %v", err)
	}
	if err := clk.WaitAdvance(time.Minute, waitTimeout, 1); err != nil {
		t.Fatalf("second interval: %v", err)
	}
	waitFor(t, "third cycle", func() bool { return poller.Cycles() >= 3 })

	cancel()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("poller did not stop")
	}
	if got := countByFeed(f.store)["polled"]; got != 3 {
		t.Fatalf("expected appended articles from three cycles, got %d", got)
	}
}

func TestCanceledLoadIsNotAFailure(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		notified []string
	)
	f := newFixture(t, Options{Notify: func(desc registry.FeedDescriptor, _ error) {
		mu.Lock()
		defer mu.Unlock()
		notified = append(notified, desc.ID)
	}}, "a", "b")
	f.source.set("a", always(articles("a", 1)))
	f.source.set("b", always(articles("b", 1)))
	releaseA := f.source.hold("a")
	defer releaseA()
	releaseB := f.source.hold("b")
	defer releaseB()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Summary, 1)
	go func() { done <- f.loader.RefetchAll(ctx) }()

	waitFor(t, "both loads to start", func() bool {
		return f.source.callCount("a") == 1 && f.source.callCount("b") == 1
	})
	cancel()

	var summary Summary
	select {
	case summary = <-done:
	case <-time.After(waitTimeout):
		t.Fatal("refetch did not return after cancel")
	}

	if summary.Canceled != 2 || summary.Failed != 0 {
		t.Fatalf("expected two cancelled loads, got %+v", summary)
	}
	if f.loader.ErrorCount() != 0 || f.loader.AllFailed() {
		t.Fatalf("cancelled loads must not count as failures, errors=%d", f.loader.ErrorCount())
	}
	if state := f.loader.Status("a").State; state != Idle {
		t.Fatalf("expected a back to idle, got %v", state)
	}
	if stored, ok := f.store.Feed("a"); ok && stored.ErrorCount != 0 {
		t.Fatalf("expected no recorded error, got %+v", stored)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 0 {
		t.Fatalf("expected no notices for cancelled loads, got %v", notified)
	}
}

func TestLoadDueBacksOffFailingFeeds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := testclock.NewClock(epoch)
	f := newFixture(t, Options{Clock: clk, PollInterval: 10 * time.Minute}, "ok", "down")
	f.source.set("ok", always(articles("ok", 1)))
	f.source.set("down", failing(errGone))

	f.loader.LoadDue(ctx)
	if next := f.loader.Status("down").NextPollAt; !next.IsZero() {
		t.Fatalf("a single failure should not delay the next poll, got %v", next)
	}
	f.loader.LoadDue(ctx)

	status := f.loader.Status("down")
	lo, hi := epoch.Add(16*time.Minute), epoch.Add(24*time.Minute)
	if status.Failures != 2 || status.NextPollAt.Before(lo) || status.NextPollAt.After(hi) {
		t.Fatalf("expected doubled backoff after two failures, got %+v", status)
	}

	f.loader.LoadDue(ctx)
	if f.source.callCount("down") != 2 || f.source.callCount("ok") != 3 {
		t.Fatalf("expected down skipped while backing off, calls down=%d ok=%d",
			f.source.callCount("down"), f.source.callCount("ok"))
	}

	clk.Advance(25 * time.Minute)
	f.loader.LoadDue(ctx)
	if f.source.callCount("down") != 3 {
		t.Fatalf("expected down polled once its backoff expired, got %d calls", f.source.callCount("down"))
	}
	status = f.loader.Status("down")
	if status.Failures != 3 || status.NextPollAt.Before(clk.Now().Add(30*time.Minute)) {
		t.Fatalf("expected backoff to keep doubling, got %+v", status)
	}

	f.source.set("down", always(articles("down", 1)))
	if err := f.loader.RefetchOne(ctx, "down"); err != nil {
		t.Fatalf("RefetchOne: %v", err)
	}
	status = f.loader.Status("down")
	if status.Failures != 0 || !status.NextPollAt.IsZero() {
		t.Fatalf("expected success to reset the backoff, got %+v", status)
	}
}
