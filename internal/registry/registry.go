// Package registry holds the ordered list of feed sources the aggregator
// knows about.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultCategory is used for feeds that do not name a category.
const DefaultCategory = "Uncategorized"

var (
	errMissingID   = errors.New("feed id is required")
	errMissingURL  = errors.New("feed url is required")
	ErrDuplicateID = errors.New("duplicate feed id")
	ErrUnknownFeed = errors.New("unknown feed")
)

// FeedDescriptor is the static description of one source.
type FeedDescriptor struct {
	ID          string `json:"id" yaml:"id"`
	URL         string `json:"url" yaml:"url"`
	Title       string `json:"title" yaml:"title"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	Favicon     string `json:"favicon,omitempty" yaml:"favicon,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// CategoryName returns the descriptor's category, or DefaultCategory when
// none is set.
func (d FeedDescriptor) CategoryName() string {
	if category := strings.TrimSpace(d.Category); category != "" {
		return category
	}
	return DefaultCategory
}

// DisplayTitle falls back to the URL when the descriptor has no title.
func (d FeedDescriptor) DisplayTitle() string {
	if title := strings.TrimSpace(d.Title); title != "" {
		return title
	}
	return d.URL
}

func (d FeedDescriptor) validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errMissingID
	}
	if strings.TrimSpace(d.URL) == "" {
		return fmt.Errorf("feed %q: %w", d.ID, errMissingURL)
	}
	return nil
}

// DeriveID returns a stable identifier for a feed added at runtime, keyed by
// its URL.
func DeriveID(feedURL string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.TrimSpace(feedURL)))
	return "feed-" + id.String()[:8]
}

// Registry is the ordered descriptor list. Order is the order sources were
// configured or added in.
type Registry struct {
	mu    sync.RWMutex
	feeds []FeedDescriptor
}

// New validates descs and returns a registry holding them in order.
func New(descs []FeedDescriptor) (*Registry, error) {
	r := &Registry{feeds: make([]FeedDescriptor, 0, len(descs))}
	for _, desc := range descs {
		if err := r.Add(desc); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// All returns a copy of the descriptors in registry order.
func (r *Registry) All() []FeedDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FeedDescriptor, len(r.feeds))
	copy(out, r.feeds)
	return out
}

// Categories returns category names in the order of their first feed.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.feeds))
	var out []string
	for _, feed := range r.feeds {
		category := feed.CategoryName()
		if _, ok := seen[category]; ok {
			continue
		}
		seen[category] = struct{}{}
		out = append(out, category)
	}
	return out
}

// FeedIDsInCategory returns the ids of the feeds in category, in registry
// order.
func (r *Registry) FeedIDsInCategory(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, feed := range r.feeds {
		if feed.CategoryName() == category {
			ids = append(ids, feed.ID)
		}
	}
	return ids
}

func (r *Registry) Get(id string) (FeedDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return FeedDescriptor{}, false
	}
	return r.feeds[idx], true
}

// HasURL reports whether a feed with the given URL is already registered.
func (r *Registry) HasURL(feedURL string) bool {
	target := strings.TrimSpace(feedURL)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, feed := range r.feeds {
		if strings.EqualFold(strings.TrimSpace(feed.URL), target) {
			return true
		}
	}
	return false
}

func (r *Registry) Add(desc FeedDescriptor) error {
	desc.ID = strings.TrimSpace(desc.ID)
	desc.URL = strings.TrimSpace(desc.URL)
	if err := desc.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(desc.ID) >= 0 {
		return fmt.Errorf("add feed %q: %w", desc.ID, ErrDuplicateID)
	}
	r.feeds = append(r.feeds, desc)
	return nil
}

func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("remove feed %q: %w", id, ErrUnknownFeed)
	}
	r.feeds = append(r.feeds[:idx], r.feeds[idx+1:]...)
	return nil
}

// Reorder moves the listed feeds to the front in the given order. Unknown and
// repeated ids are ignored; feeds not listed keep their relative order after
// the listed ones.
func (r *Registry) Reorder(ids []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{}, len(ids))
	ordered := make([]FeedDescriptor, 0, len(r.feeds))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		idx := r.indexLocked(id)
		if idx < 0 {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, r.feeds[idx])
	}
	for _, feed := range r.feeds {
		if _, ok := seen[feed.ID]; !ok {
			ordered = append(ordered, feed)
		}
	}
	r.feeds = ordered
	out := make([]string, 0, len(ordered))
	for _, feed := range ordered {
		out = append(out, feed.ID)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.feeds)
}

func (r *Registry) indexLocked(id string) int {
	for i, feed := range r.feeds {
		if feed.ID == id {
			return i
		}
	}
	return -1
}
