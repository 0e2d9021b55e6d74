// Package view turns aggregator state into JSON response models.
package view

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"feedflow/internal/feed"
	"feedflow/internal/loader"
	"feedflow/internal/merge"
)

func BuildFeedView(f merge.Feed, enabled bool, articleCount int, status loader.Status, now time.Time) FeedView {
	updatedDisplay := "Never"
	var lastUpdated *time.Time
	if !f.LastUpdated.IsZero() {
		updated := f.LastUpdated
		lastUpdated = &updated
		updatedDisplay = FormatRelative(updated, now)
	}
	return FeedView{
		ID:                 f.ID,
		Title:              f.DisplayTitle(),
		URL:                f.URL,
		Link:               f.Link,
		Category:           f.CategoryName(),
		Favicon:            f.Favicon,
		Description:        f.Description,
		Enabled:            enabled,
		ArticleCount:       articleCount,
		State:              status.State.String(),
		Loading:            status.InFlight,
		Stale:              f.Loaded && feed.IsStale(f.LastUpdated, now),
		ErrorCount:         f.ErrorCount,
		LastError:          f.LastError,
		LastUpdated:        lastUpdated,
		LastUpdatedDisplay: updatedDisplay,
	}
}

func BuildArticleView(a feed.Article, source merge.Feed, now time.Time) ArticleView {
	return ArticleView{
		ID:               a.ID,
		Title:            a.Title,
		Description:      a.Description,
		URL:              a.URL,
		Image:            a.Image,
		Author:           a.Author,
		FeedID:           a.FeedID,
		FeedTitle:        source.DisplayTitle(),
		Category:         source.CategoryName(),
		PubDate:          a.PubDate,
		PublishedDisplay: FormatTime(a.PubDate),
		PublishedCompact: FormatRelativeShort(a.PubDate, now),
	}
}

// BuildStatusView summarizes the store. replacing lists the feeds still
// waiting for the load that replaces their articles.
func BuildStatusView(stats merge.Stats, replacing []string, fetching, initialLoading, allFailed bool) StatusView {
	return StatusView{
		Feeds:            stats.Feeds,
		Articles:         stats.Articles,
		ArticlesDisplay:  humanize.Comma(int64(stats.Articles)),
		FailingFeeds:     stats.FailingFeeds,
		Replacing:        replacing,
		IsFetching:       fetching,
		IsInitialLoading: initialLoading,
		AllFailed:        allFailed,
	}
}

func FormatTime(t time.Time) string {
	return t.Local().Format("Jan 2, 2006 - 3:04 PM")
}

// FormatRelative renders t as "3 minutes ago" relative to now.
func FormatRelative(t, now time.Time) string {
	if t.After(now) {
		t = now
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func FormatRelativeShort(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "na"
	}
	age := now.Sub(t)
	if age < 0 {
		age = 0
	}
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	case age < 365*24*time.Hour:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	default:
		return fmt.Sprintf("%dy", int(age.Hours()/(24*365)))
	}
}
