package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/juju/gnuflag"

	"feedflow/internal/aggregator"
	"feedflow/internal/config"
	"feedflow/internal/feed"
	"feedflow/internal/loader"
	"feedflow/internal/merge"
	"feedflow/internal/metrics"
	"feedflow/internal/opml"
	"feedflow/internal/registry"
	"feedflow/internal/server"
	"feedflow/internal/store"
	"feedflow/internal/window"
)

const shutdownTimeout = 10 * time.Second

type flags struct {
	configPath string
	addr       string
	dbPath     string
	logLevel   string
	opmlPath   string
	memory     bool
}

func main() {
	err := run(context.Background(), os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	setupLogging(level)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	seed, err := seedDescriptors(cfg.Feeds, f.opmlPath)
	if err != nil {
		return err
	}

	subs, err := openSubscriptions(ctx, cfg.DBPath, seed)
	if err != nil {
		return err
	}
	defer subs.close()

	reg, err := registry.New(subs.feeds)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	agg, m := newAggregator(cfg, reg, subs.persister)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      server.New(agg, m).Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	err = agg.Start(ctx)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	slog.Info("feedflow running", "addr", cfg.Addr, "feeds", reg.Len(), "db", cfg.DBPath)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownErr := httpServer.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		slog.Warn("http shutdown failed", "err", shutdownErr)
	}

	agg.Wait()

	return err
}

func setupLogging(level slog.Level) {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func parseFlags(args []string) (flags, error) {
	var f flags

	fs := gnuflag.NewFlagSet("feedflow", gnuflag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&f.addr, "addr", "", "listen address, overrides the config file")
	fs.StringVar(&f.dbPath, "db", "", "subscription database path, overrides the config file")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&f.opmlPath, "opml", "", "OPML file used to seed an empty subscription list")
	fs.BoolVar(&f.memory, "memory", false, "keep subscriptions in memory only")

	err := fs.Parse(true, args)
	if err != nil {
		return flags{}, fmt.Errorf("parse flags: %w", err)
	}

	if extra := fs.Args(); len(extra) > 0 {
		return flags{}, fmt.Errorf("unexpected arguments: %s", strings.Join(extra, " "))
	}

	return f, nil
}

// loadConfig layers command-line flags over the file and environment.
func loadConfig(f flags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}

	if f.addr != "" {
		cfg.Addr = f.addr
	}

	if f.dbPath != "" {
		cfg.DBPath = f.dbPath
	}

	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}

	if f.memory {
		cfg.DBPath = ""
	}

	err = cfg.Validate()
	if err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}

// seedDescriptors combines configured feeds and an optional OPML file into
// the list written to an empty database. Missing ids are derived from the URL
// and repeated URLs are dropped.
func seedDescriptors(configured []registry.FeedDescriptor, opmlPath string) ([]registry.FeedDescriptor, error) {
	descs := make([]registry.FeedDescriptor, 0, len(configured))
	descs = append(descs, configured...)

	if opmlPath != "" {
		file, err := os.Open(opmlPath)
		if err != nil {
			return nil, fmt.Errorf("open opml: %w", err)
		}

		subscriptions, parseErr := opml.Parse(file)

		closeErr := file.Close()
		if closeErr != nil {
			slog.Warn("opml close failed", "err", closeErr)
		}

		if parseErr != nil {
			return nil, fmt.Errorf("parse opml %s: %w", opmlPath, parseErr)
		}

		for _, subscription := range subscriptions {
			descs = append(descs, subscription.Descriptor())
		}
	}

	seenURLs := make(map[string]struct{}, len(descs))
	seenIDs := make(map[string]struct{}, len(descs))
	out := make([]registry.FeedDescriptor, 0, len(descs))

	for _, desc := range descs {
		feedURL, err := feed.NormalizeURL(desc.URL)
		if err != nil {
			slog.Warn("skipping seed feed", "feed_url", desc.URL, "err", err)

			continue
		}

		desc.URL = feedURL
		if strings.TrimSpace(desc.ID) == "" {
			desc.ID = registry.DeriveID(feedURL)
		}

		if _, dup := seenURLs[feedURL]; dup {
			continue
		}

		if _, dup := seenIDs[desc.ID]; dup {
			continue
		}

		seenURLs[feedURL] = struct{}{}
		seenIDs[desc.ID] = struct{}{}
		out = append(out, desc)
	}

	return out, nil
}

type subscriptions struct {
	feeds     []registry.FeedDescriptor
	persister aggregator.Persister
	db        *sql.DB
}

func (s subscriptions) close() {
	if s.db == nil {
		return
	}

	err := s.db.Close()
	if err != nil {
		slog.Warn("close database failed", "err", err)
	}
}

// openSubscriptions returns the subscription list. With an empty dbPath the
// seed list is used as is and nothing is persisted.
func openSubscriptions(ctx context.Context, dbPath string, seed []registry.FeedDescriptor) (subscriptions, error) {
	if dbPath == "" {
		return subscriptions{feeds: seed}, nil
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return subscriptions{}, err
	}

	subs := subscriptions{db: db, persister: store.NewSubscriptions(db)}

	err = store.Init(ctx, db)
	if err != nil {
		subs.close()

		return subscriptions{}, err
	}

	_, err = store.SeedFeeds(ctx, db, seed)
	if err != nil {
		subs.close()

		return subscriptions{}, err
	}

	subs.feeds, err = store.ListFeeds(ctx, db)
	if err != nil {
		subs.close()

		return subscriptions{}, err
	}

	return subs, nil
}

func newAggregator(cfg config.Config, reg *registry.Registry, persister aggregator.Persister) (*aggregator.Aggregator, *metrics.Metrics) {
	transport := feed.NewHTTPTransport(feed.TransportOptions{
		Client:    feed.NewHTTPClient(cfg.FetchTimeout),
		Proxies:   cfg.Proxies,
		UserAgent: cfg.UserAgent,
	})

	var agg *aggregator.Aggregator

	m := metrics.New(func() merge.Stats { return agg.Stats() })

	agg = aggregator.New(reg, feed.NewAdapter(transport, nil), aggregator.Options{
		Window: window.Config{
			PageSize:  cfg.PageSize,
			Cap:       cfg.PageCap,
			LoadDelay: cfg.LoadDelay,
		},
		Debounce: cfg.Debounce,
		Loader: loader.Options{
			Attempts:    cfg.RetryAttempts,
			Concurrency: cfg.Concurrency,
			Recorder:    m,
		},
		PollInterval: cfg.PollInterval,
		PollJitter:   true,
		Persister:    persister,
	})

	return agg, m
}
