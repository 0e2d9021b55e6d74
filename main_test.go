package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"feedflow/internal/config"
	"feedflow/internal/registry"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	f, err := parseFlags([]string{"--addr", ":9090", "--log-level=debug", "--memory"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if f.addr != ":9090" || f.logLevel != "debug" || !f.memory {
		t.Fatalf("unexpected flags %+v", f)
	}

	if _, err := parseFlags([]string{"--nope"}); err == nil {
		t.Fatal("expected unknown flag error")
	}
	if _, err := parseFlags([]string{"serve"}); err == nil {
		t.Fatal("expected error for positional argument")
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "feedflow.yaml", `
addr: ":7000"
db: "from-file.db"
log_level: warn
feeds:
  - id: a
    url: https://a.example.com/rss.xml
    title: Alpha
`)

	cfg, err := loadConfig(flags{configPath: path, addr: ":9000"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("expected flag addr, got %q", cfg.Addr)
	}
	if cfg.DBPath != "from-file.db" || cfg.LogLevel != "warn" {
		t.Fatalf("expected file values, got db=%q level=%q", cfg.DBPath, cfg.LogLevel)
	}
	if len(cfg.Feeds) != 1 || cfg.Feeds[0].Title != "Alpha" {
		t.Fatalf("unexpected feeds %+v", cfg.Feeds)
	}

	cfg, err = loadConfig(flags{configPath: path, memory: true})
	if err != nil {
		t.Fatalf("loadConfig memory: %v", err)
	}
	if cfg.DBPath != "" {
		t.Fatalf("expected memory mode to clear db path, got %q", cfg.DBPath)
	}

	if _, err := loadConfig(flags{configPath: path, logLevel: "loud"}); err == nil {
		t.Fatal("expected invalid log level error")
	}
}

func TestSeedDescriptors(t *testing.T) {
	t.Parallel()

	opmlPath := writeFile(t, "subs.opml", `<?xml version="1.0"?>
<opml version="2.0"><body>
  <outline text="Tech">
    <outline text="Charlie" type="rss" xmlUrl="https://c.example.com/feed.xml"/>
  </outline>
  <outline text="Alpha again" type="rss" xmlUrl="https://a.example.com/rss.xml"/>
</body></opml>`)

	configured := []registry.FeedDescriptor{
		{URL: "a.example.com/rss.xml", Title: "Alpha"},
		{ID: "b", URL: "https://b.example.com/rss.xml", Title: "Bravo"},
		{ID: "b", URL: "https://b2.example.com/rss.xml", Title: "Bravo copy"},
		{ID: "bad", URL: "   "},
	}

	descs, err := seedDescriptors(configured, opmlPath)
	if err != nil {
		t.Fatalf("seedDescriptors: %v", err)
	}
	if len(descs) != 3 {
		t.Fatalf("expected 3 descriptors, got %+v", descs)
	}
	if descs[0].URL != "https://a.example.com/rss.xml" || descs[0].ID != registry.DeriveID(descs[0].URL) {
		t.Fatalf("expected normalized URL and derived id, got %+v", descs[0])
	}
	if descs[1].ID != "b" || descs[1].Title != "Bravo" {
		t.Fatalf("expected first b to win, got %+v", descs[1])
	}
	if descs[2].Title != "Charlie" || descs[2].Category != "Tech" {
		t.Fatalf("expected OPML feed with category, got %+v", descs[2])
	}

	if _, err := seedDescriptors(nil, filepath.Join(t.TempDir(), "missing.opml")); err == nil {
		t.Fatal("expected error for missing OPML file")
	}
}

func TestOpenSubscriptionsSeedsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "feedflow.db")

	first := []registry.FeedDescriptor{{ID: "a", URL: "https://a.example.com/rss.xml", Title: "Alpha"}}
	subs, err := openSubscriptions(ctx, dbPath, first)
	if err != nil {
		t.Fatalf("openSubscriptions: %v", err)
	}
	if len(subs.feeds) != 1 || subs.feeds[0].ID != "a" || subs.persister == nil {
		t.Fatalf("unexpected first open %+v", subs)
	}
	subs.close()

	second := []registry.FeedDescriptor{{ID: "z", URL: "https://z.example.com/rss.xml", Title: "Zulu"}}
	subs, err = openSubscriptions(ctx, dbPath, second)
	if err != nil {
		t.Fatalf("openSubscriptions again: %v", err)
	}
	defer subs.close()
	if len(subs.feeds) != 1 || subs.feeds[0].ID != "a" {
		t.Fatalf("expected stored list to win over seed, got %+v", subs.feeds)
	}
}

func TestOpenSubscriptionsInMemory(t *testing.T) {
	t.Parallel()

	seed := []registry.FeedDescriptor{{ID: "a", URL: "https://a.example.com/rss.xml"}}
	subs, err := openSubscriptions(context.Background(), "", seed)
	if err != nil {
		t.Fatalf("openSubscriptions: %v", err)
	}
	if subs.db != nil || subs.persister != nil {
		t.Fatal("expected no database in memory mode")
	}
	if len(subs.feeds) != 1 {
		t.Fatalf("expected seed list, got %+v", subs.feeds)
	}
	subs.close()
}

func TestNewAggregatorWiresMetrics(t *testing.T) {
	t.Parallel()

	reg, err := registry.New([]registry.FeedDescriptor{{ID: "a", URL: "https://a.example.com/rss.xml"}})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}

	agg, m := newAggregator(config.Default(), reg, nil)
	if agg == nil || m == nil {
		t.Fatal("expected aggregator and metrics")
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() == "feedflow_stored_feeds" {
			found = true
			if got := family.GetMetric()[0].GetGauge().GetValue(); got != 0 {
				t.Fatalf("expected empty store, got %v", got)
			}
		}
	}
	if !found {
		t.Fatal("expected stored feeds gauge to be registered")
	}
}
