package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"feedflow/internal/registry"
)

func TestSaveFeedAppendsAndUpdates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := registry.FeedDescriptor{ID: "first", URL: "https://example.com/first.xml", Title: "First"}
	second := registry.FeedDescriptor{ID: "second", URL: "https://example.com/second.xml", Title: "Second", Category: "Tech"}
	if err := SaveFeed(ctx, db, first); err != nil {
		t.Fatalf("SaveFeed first: %v", err)
	}
	if err := SaveFeed(ctx, db, second); err != nil {
		t.Fatalf("SaveFeed second: %v", err)
	}

	first.Title = "First Renamed"
	first.Description = "about"
	if err := SaveFeed(ctx, db, first); err != nil {
		t.Fatalf("SaveFeed update: %v", err)
	}

	feeds, err := ListFeeds(ctx, db)
	if err != nil {
		t.Fatalf("ListFeeds: %v", err)
	}
	if len(feeds) != 2 {
		t.Fatalf("expected 2 feeds, got %d", len(feeds))
	}
	if feeds[0] != first {
		t.Fatalf("expected updated first feed in place, got %+v", feeds[0])
	}
	if feeds[1].Category != "Tech" || feeds[1].Favicon != "" {
		t.Fatalf("unexpected second feed %+v", feeds[1])
	}
}

func TestSaveFeedRejectsDuplicateURL(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := SaveFeed(ctx, db, registry.FeedDescriptor{ID: "a", URL: "https://example.com/rss", Title: "A"}); err != nil {
		t.Fatalf("SaveFeed: %v", err)
	}
	if err := SaveFeed(ctx, db, registry.FeedDescriptor{ID: "b", URL: "https://example.com/rss", Title: "B"}); err == nil {
		t.Fatal("expected unique url violation")
	}
}

func TestSaveAndDeleteFeed(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	desc := registry.FeedDescriptor{ID: "gone", URL: "https://example.com/gone.xml", Title: "Gone"}
	if err := SaveFeed(ctx, db, desc); err != nil {
		t.Fatalf("SaveFeed: %v", err)
	}
	feeds, err := ListFeeds(ctx, db)
	if err != nil || len(feeds) != 1 || feeds[0] != desc {
		t.Fatalf("ListFeeds = %+v, %v", feeds, err)
	}

	if err := DeleteFeed(ctx, db, "gone"); err != nil {
		t.Fatalf("DeleteFeed: %v", err)
	}
	if err := DeleteFeed(ctx, db, "gone"); err != nil {
		t.Fatalf("DeleteFeed twice: %v", err)
	}
	feeds, err = ListFeeds(ctx, db)
	if err != nil || len(feeds) != 0 {
		t.Fatalf("expected no feeds after delete, got %+v, %v", feeds, err)
	}
}

func TestSeedFeedsOnlyWhenEmpty(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	seed := []registry.FeedDescriptor{
		{ID: "b", URL: "https://example.com/b.xml", Title: "B"},
		{ID: "a", URL: "https://example.com/a.xml", Title: "A"},
	}
	n, err := SeedFeeds(ctx, db, seed)
	if err != nil || n != 2 {
		t.Fatalf("SeedFeeds = %d, %v", n, err)
	}

	n, err = SeedFeeds(ctx, db, []registry.FeedDescriptor{{ID: "c", URL: "https://example.com/c.xml", Title: "C"}})
	if err != nil || n != 0 {
		t.Fatalf("second SeedFeeds = %d, %v", n, err)
	}

	feeds, err := ListFeeds(ctx, db)
	if err != nil {
		t.Fatalf("ListFeeds: %v", err)
	}
	if len(feeds) != 2 || feeds[0].ID != "b" || feeds[1].ID != "a" {
		t.Fatalf("expected seed order preserved, got %+v", feeds)
	}
}

func TestUpdateFeedOrderPersistsListOrder(t *testing.T) {
	db := openTestDB(t)
	subs := NewSubscriptions(db)
	ctx := context.Background()

	for _, id := range []string{"first", "second", "third"} {
		desc := registry.FeedDescriptor{ID: id, URL: "https://example.com/" + id + ".xml", Title: id}
		if err := subs.SaveFeed(ctx, desc); err != nil {
			t.Fatalf("SaveFeed %s: %v", id, err)
		}
	}

	if err := subs.UpdateFeedOrder(ctx, []string{"third", "unknown", "first", "third"}); err != nil {
		t.Fatalf("UpdateFeedOrder: %v", err)
	}

	feeds, err := ListFeeds(ctx, db)
	if err != nil {
		t.Fatalf("ListFeeds: %v", err)
	}
	if len(feeds) != 3 {
		t.Fatalf("expected 3 feeds, got %d", len(feeds))
	}
	if feeds[0].ID != "third" || feeds[1].ID != "first" || feeds[2].ID != "second" {
		t.Fatalf("unexpected feed order: got [%s %s %s]", feeds[0].ID, feeds[1].ID, feeds[2].ID)
	}

	if err := subs.DeleteFeed(ctx, "first"); err != nil {
		t.Fatalf("DeleteFeed: %v", err)
	}
	if feeds, _ := ListFeeds(ctx, db); len(feeds) != 2 {
		t.Fatalf("expected 2 feeds after delete, got %d", len(feeds))
	}
}

func TestInitMigratesLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(`
CREATE TABLE feeds (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	created_at DATETIME NOT NULL
)
`); err != nil {
		t.Fatalf("create legacy feeds table: %v", err)
	}

	now := time.Now().UTC()
	if _, err := db.Exec(
		`INSERT INTO feeds (id, url, title, created_at) VALUES (?, ?, ?, ?), (?, ?, ?, ?)`,
		"bravo", "http://example.com/bravo", "Bravo", now,
		"alpha", "http://example.com/alpha", "Alpha", now.Add(time.Second),
	); err != nil {
		t.Fatalf("insert legacy feeds: %v", err)
	}

	if err := Init(context.Background(), db); err != nil {
		t.Fatalf("Init: %v", err)
	}

	for _, column := range feedColumns {
		var present int
		if err := db.QueryRow(`
SELECT COUNT(*)
FROM pragma_table_info('feeds')
WHERE name = ?
`, column.name).Scan(&present); err != nil {
			t.Fatalf("check %s column: %v", column.name, err)
		}
		if present != 1 {
			t.Fatalf("expected %s column to be added", column.name)
		}
	}

	feeds, err := ListFeeds(context.Background(), db)
	if err != nil {
		t.Fatalf("ListFeeds: %v", err)
	}
	if len(feeds) != 2 {
		t.Fatalf("expected 2 feeds, got %d", len(feeds))
	}
	if feeds[0].Title != "Alpha" || feeds[1].Title != "Bravo" {
		t.Fatalf("expected legacy feeds to be initialized in title order, got %q then %q", feeds[0].Title, feeds[1].Title)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := Init(context.Background(), db); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := Init(context.Background(), db); err != nil {
		_ = db.Close()
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
