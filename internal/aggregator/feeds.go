package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"feedflow/internal/feed"
	"feedflow/internal/loader"
	"feedflow/internal/registry"
)

// Descriptors returns the registered feeds in order.
func (a *Aggregator) Descriptors() []registry.FeedDescriptor {
	return a.registry.All()
}

// AddFeed validates and registers desc, persists it and loads it once. A
// failed first load does not undo the subscription; it is reported as a
// notice like any manual refresh.
func (a *Aggregator) AddFeed(ctx context.Context, desc registry.FeedDescriptor) (registry.FeedDescriptor, error) {
	added, err := a.AddFeeds(ctx, []registry.FeedDescriptor{desc})
	if err != nil {
		return registry.FeedDescriptor{}, err
	}
	return added[0], nil
}

// AddFeeds registers every valid, new descriptor and loads them together.
// Rejected descriptors are reported in the joined error; the others are
// still added.
func (a *Aggregator) AddFeeds(ctx context.Context, descs []registry.FeedDescriptor) ([]registry.FeedDescriptor, error) {
	var (
		added []registry.FeedDescriptor
		errs  []error
	)
	for _, desc := range descs {
		prepared, err := a.register(ctx, desc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		added = append(added, prepared)
	}
	if len(added) > 0 {
		a.loader.Load(ctx, added, loader.Append, true)
	}
	return added, errors.Join(errs...)
}

func (a *Aggregator) register(ctx context.Context, desc registry.FeedDescriptor) (registry.FeedDescriptor, error) {
	normalized, err := feed.ValidateURL(desc.URL)
	if err != nil {
		return registry.FeedDescriptor{}, fmt.Errorf("add feed %q: %w", desc.URL, err)
	}
	desc.URL = normalized
	if a.registry.HasURL(desc.URL) {
		return registry.FeedDescriptor{}, fmt.Errorf("add feed %q: %w", desc.URL, ErrDuplicateFeed)
	}
	desc.ID = strings.TrimSpace(desc.ID)
	if desc.ID == "" {
		desc.ID = registry.DeriveID(desc.URL)
	}
	desc.Title = strings.TrimSpace(desc.Title)
	desc.Category = strings.TrimSpace(desc.Category)

	if err := a.registry.Add(desc); err != nil {
		return registry.FeedDescriptor{}, err
	}
	if a.persister != nil {
		if err := a.persister.SaveFeed(ctx, desc); err != nil {
			_ = a.registry.Remove(desc.ID)
			return registry.FeedDescriptor{}, fmt.Errorf("add feed %q: %w", desc.URL, err)
		}
	}
	slog.Info("feed added", "feed_id", desc.ID, "feed_url", desc.URL, "category", desc.CategoryName())
	return desc, nil
}

// RemoveFeed unregisters feedID and purges its articles, its enablement flag
// and any selection pointing at it. A fetch still in flight for the feed is
// discarded when it completes.
func (a *Aggregator) RemoveFeed(ctx context.Context, feedID string) error {
	desc, ok := a.registry.Get(feedID)
	if !ok {
		return fmt.Errorf("remove feed %q: %w", feedID, ErrUnknownFeed)
	}
	if a.persister != nil {
		if err := a.persister.DeleteFeed(ctx, feedID); err != nil {
			return fmt.Errorf("remove feed %q: %w", feedID, err)
		}
	}
	if err := a.registry.Remove(feedID); err != nil {
		return fmt.Errorf("remove feed %q: %w", feedID, ErrUnknownFeed)
	}
	a.loader.Forget(feedID)
	a.store.Remove(feedID)
	a.flags.Forget(feedID)

	category := desc.CategoryName()
	emptied := len(a.registry.FeedIDsInCategory(category)) == 0
	if emptied {
		a.flags.ForgetCategory(category)
	}

	a.mu.Lock()
	a.selection.ForgetFeed(feedID)
	if emptied {
		a.selection.ForgetCategory(category)
	}
	a.dropNoticesLocked(feedID)
	a.mu.Unlock()

	slog.Info("feed removed", "feed_id", feedID, "feed_url", desc.URL)
	return nil
}

// ReorderFeeds moves the listed feeds to the front of the registry and
// persists the resulting order.
func (a *Aggregator) ReorderFeeds(ctx context.Context, feedIDs []string) ([]string, error) {
	order := a.registry.Reorder(feedIDs)
	if a.persister != nil {
		if err := a.persister.UpdateFeedOrder(ctx, order); err != nil {
			return nil, fmt.Errorf("reorder feeds: %w", err)
		}
	}
	return order, nil
}
