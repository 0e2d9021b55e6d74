// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"feedflow/internal/store"
)

var ErrUnexpectedURL = errors.New("unexpected feed url")

type route struct {
	body   string
	status int
	err    error
}

// FeedServer is an in-memory http.RoundTripper serving canned feed bodies.
// Unlike a global transport swap it is safe to use from parallel tests.
type FeedServer struct {
	mu         sync.RWMutex
	defaultURL string
	routes     map[string]*route
	calls      map[string]int
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// NewFeedServer registers feedXML under a URL derived from the test name and
// returns that URL.
func NewFeedServer(t *testing.T, feedXML string) (*FeedServer, string) {
	t.Helper()
	feedURL := "https://feed.test/" + url.PathEscape(t.Name()) + "/rss.xml"
	fs := &FeedServer{
		defaultURL: feedURL,
		routes:     make(map[string]*route),
		calls:      make(map[string]int),
	}
	fs.Handle(feedURL, feedXML)
	return fs, feedURL
}

// Client returns an http.Client that routes every request to fs.
func (f *FeedServer) Client() *http.Client {
	return &http.Client{Transport: roundTripFunc(f.RoundTrip)}
}

func (f *FeedServer) RoundTrip(req *http.Request) (*http.Response, error) {
	target := req.URL.String()
	f.mu.Lock()
	r, ok := f.routes[target]
	f.calls[target]++
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedURL, target)
	}

	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Status:     fmt.Sprintf("%d %s", r.status, http.StatusText(r.status)),
		Header:     http.Header{"Content-Type": []string{"application/rss+xml"}},
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Request:    req,
	}, nil
}

// Handle serves body with status 200 at feedURL.
func (f *FeedServer) Handle(feedURL, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[feedURL] = &route{body: body, status: http.StatusOK}
}

// SetFeedXML replaces the body served at the default URL.
func (f *FeedServer) SetFeedXML(xml string) {
	f.Handle(f.defaultURL, xml)
}

// SetStatus makes feedURL answer with status and an empty body.
func (f *FeedServer) SetStatus(feedURL string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[feedURL] = &route{status: status}
}

// FailWith makes requests to feedURL return err from the transport.
func (f *FeedServer) FailWith(feedURL string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[feedURL] = &route{err: err}
}

// Calls returns how many requests reached feedURL.
func (f *FeedServer) Calls(feedURL string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls[feedURL]
}

// StaticTransport serves bodies keyed by feed URL without any HTTP layer.
type StaticTransport struct {
	mu     sync.Mutex
	Bodies map[string]string
	Errors map[string]error
	calls  map[string]int
}

func (s *StaticTransport) Fetch(ctx context.Context, feedURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[feedURL]++
	if err, ok := s.Errors[feedURL]; ok {
		return "", err
	}
	body, ok := s.Bodies[feedURL]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnexpectedURL, feedURL)
	}
	return body, nil
}

// SetBody replaces the body served for feedURL and clears any error.
func (s *StaticTransport) SetBody(feedURL, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Bodies == nil {
		s.Bodies = make(map[string]string)
	}
	s.Bodies[feedURL] = body
	delete(s.Errors, feedURL)
}

// SetError makes feedURL fail with err.
func (s *StaticTransport) SetError(feedURL string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Errors == nil {
		s.Errors = make(map[string]error)
	}
	s.Errors[feedURL] = err
}

func (s *StaticTransport) Calls(feedURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[feedURL]
}

type RSSItem struct {
	Title       string
	Link        string
	GUID        string
	PubDate     string
	Description string
	Author      string
	Image       string
}

func RSSXML(title string, items []RSSItem) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/" xmlns:dc="http://purl.org/dc/elements/1.1/"><channel>`)
	b.WriteString(fmt.Sprintf("<title>%s</title>", html.EscapeString(title)))
	b.WriteString("<link>http://example.com</link>")
	b.WriteString("<description>Test feed</description>")
	for _, item := range items {
		b.WriteString("<item>")
		if item.Title != "" {
			b.WriteString(fmt.Sprintf("<title>%s</title>", html.EscapeString(item.Title)))
		}
		if item.Link != "" {
			b.WriteString(fmt.Sprintf("<link>%s</link>", html.EscapeString(item.Link)))
		}
		if item.GUID != "" {
			b.WriteString(fmt.Sprintf("<guid>%s</guid>", html.EscapeString(item.GUID)))
		}
		if item.PubDate != "" {
			b.WriteString(fmt.Sprintf("<pubDate>%s</pubDate>", item.PubDate))
		}
		if item.Author != "" {
			b.WriteString(fmt.Sprintf("<dc:creator>%s</dc:creator>", html.EscapeString(item.Author)))
		}
		if item.Image != "" {
			b.WriteString(fmt.Sprintf(`<enclosure url="%s" type="image/jpeg" length="0"/>`, html.EscapeString(item.Image)))
		}
		b.WriteString(fmt.Sprintf("<description><![CDATA[%s]]></description>", item.Description))
		b.WriteString("</item>")
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

// Items builds n items for feedID with descending publication times starting
// at newest, one minute apart.
func Items(feedID string, n int, newest time.Time) []RSSItem {
	items := make([]RSSItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, RSSItem{
			Title:       fmt.Sprintf("%s article %d", feedID, i),
			Link:        fmt.Sprintf("https://%s.example.com/posts/%d", feedID, i),
			GUID:        fmt.Sprintf("%s-%d", feedID, i),
			PubDate:     newest.Add(-time.Duration(i) * time.Minute).Format(time.RFC1123Z),
			Description: fmt.Sprintf("<p>Summary %d</p>", i),
		})
	}
	return items
}

func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	if err := store.Init(context.Background(), db); err != nil {
		_ = db.Close()
		t.Fatalf("store.Init: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
