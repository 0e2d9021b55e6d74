package aggregator

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"feedflow/internal/feed"
	"feedflow/internal/registry"
)

const (
	// NoticeTTL is how long a refresh failure notice stays visible.
	NoticeTTL  = 30 * time.Second
	maxNotices = 20
)

// Notice reports a failed manual refresh of one feed.
type Notice struct {
	ID        string
	FeedID    string
	FeedTitle string
	Kind      string
	Message   string
	Retryable bool
	At        time.Time
}

func (a *Aggregator) notify(desc registry.FeedDescriptor, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.noticeSeq++
	notice := Notice{
		ID:        fmt.Sprintf("notice-%d", a.noticeSeq),
		FeedID:    desc.ID,
		FeedTitle: desc.DisplayTitle(),
		Kind:      feed.Kind(err),
		Message:   feed.UserMessage(err),
		Retryable: feed.IsRetryable(err),
		At:        a.clock.Now(),
	}
	a.notices = append(a.notices, notice)
	if len(a.notices) > maxNotices {
		a.notices = slices.Delete(a.notices, 0, len(a.notices)-maxNotices)
	}
	slog.Warn("refresh failure notice", "feed_id", desc.ID, "kind", notice.Kind, "retryable", notice.Retryable)
}

// Notices returns unexpired notices, oldest first.
func (a *Aggregator) Notices() []Notice {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneNoticesLocked()
	return slices.Clone(a.notices)
}

// DismissNotice drops one notice. It reports whether it was present.
func (a *Aggregator) DismissNotice(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	before := len(a.notices)
	a.notices = slices.DeleteFunc(a.notices, func(n Notice) bool { return n.ID == id })
	return len(a.notices) != before
}

func (a *Aggregator) pruneNoticesLocked() {
	cutoff := a.clock.Now().Add(-NoticeTTL)
	a.notices = slices.DeleteFunc(a.notices, func(n Notice) bool { return n.At.Before(cutoff) })
}

func (a *Aggregator) dropNoticesLocked(feedID string) {
	a.notices = slices.DeleteFunc(a.notices, func(n Notice) bool { return n.FeedID == feedID })
}
