// Package feed fetches remote feeds and turns them into normalized articles.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/juju/clock"

	"feedflow/internal/content"
	"feedflow/internal/registry"
)

// Adapter is the fetch-parse step for a single feed.
type Adapter struct {
	transport Transport
	parser    *Parser
	clock     clock.Clock
}

func NewAdapter(transport Transport, clk clock.Clock) *Adapter {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Adapter{transport: transport, parser: NewParser(), clock: clk}
}

// Load fetches and parses desc. The result's feed id and every article's
// FeedID are desc.ID regardless of what the document says.
func (a *Adapter) Load(ctx context.Context, desc registry.FeedDescriptor) (Result, error) {
	start := a.clock.Now()
	raw, err := a.transport.Fetch(ctx, desc.URL)
	if err != nil {
		return Result{}, fmt.Errorf("load feed %s: %w", desc.ID, err)
	}
	parsed, err := a.parser.Parse(raw)
	if err != nil {
		return Result{}, fmt.Errorf("load feed %s: %w", desc.ID, err)
	}

	fetchedAt := a.clock.Now().UTC()
	result := Result{
		Feed: FeedMeta{
			ID:          desc.ID,
			Title:       firstNonEmpty(content.PlainText(parsed.Title, 0), desc.DisplayTitle()),
			Description: content.PlainText(parsed.Description, content.DescriptionLimit),
			Link:        firstNonEmpty(parsed.Link, desc.URL),
			Image:       strings.TrimSpace(parsed.Image),
		},
		Articles:  normalizeItems(desc.ID, parsed.Items, fetchedAt),
		FetchedAt: fetchedAt,
	}
	slog.Debug("feed loaded",
		"feed_id", desc.ID,
		"feed_url", desc.URL,
		"items_in_feed", len(result.Articles),
		"duration_ms", fetchedAt.Sub(start).Milliseconds(),
	)
	return result, nil
}
