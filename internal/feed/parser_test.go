package feed

import (
	"errors"
	"strings"
	"testing"

	"feedflow/internal/testutil"
)

const atomDocument = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <link href="https://atom.example.com/"/>
  <updated>2024-03-01T10:00:00Z</updated>
  <entry>
    <title>Entry one</title>
    <id>urn:uuid:1</id>
    <link href="https://atom.example.com/1"/>
    <updated>2024-03-01T10:00:00Z</updated>
    <summary>First entry</summary>
  </entry>
</feed>`

func TestParseRSS(t *testing.T) {
	t.Parallel()

	raw := testutil.RSSXML("Example", []testutil.RSSItem{{
		Title:       "Hello",
		Link:        "https://example.com/hello",
		GUID:        "hello",
		PubDate:     "Fri, 01 Mar 2024 10:00:00 +0000",
		Description: "<p>World</p>",
	}})
	parsed, err := NewParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Title != "Example" || len(parsed.Items) != 1 {
		t.Fatalf("unexpected parse result: %+v", parsed)
	}
	if parsed.Link != "http://example.com" || parsed.Items[0].Link != "https://example.com/hello" {
		t.Fatalf("expected channel and item links, got %q and %q", parsed.Link, parsed.Items[0].Link)
	}
}

func TestParseRSSWithLinkElements(t *testing.T) {
	t.Parallel()

	raw := `<rss version="2.0"><channel><title>T</title><link>https://example.com/</link>` +
		`<item><title>One</title><link>https://example.com/1</link><guid>1</guid></item>` +
		`</channel></rss>`
	parsed, err := NewParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed.Items) != 1 || parsed.Items[0].Link != "https://example.com/1" {
		t.Fatalf("unexpected items: %+v", parsed.Items)
	}
}

func TestParseAtom(t *testing.T) {
	t.Parallel()

	parsed, err := NewParser().Parse(atomDocument)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Title != "Atom Feed" || len(parsed.Items) != 1 {
		t.Fatalf("unexpected parse result: %+v", parsed)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: "   "},
		{name: "truncated xml", raw: `<?xml version="1.0"?><rss version="2.0"><channel><title>x</title>`},
		{name: "rss without channel", raw: `<?xml version="1.0"?><rss version="2.0"><item><title>x</title></item></rss>`},
		{name: "html page", raw: `<html><head><title>Not a feed</title></head><body></body></html>`},
		{name: "plain text", raw: "Too many requests"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewParser().Parse(tc.raw)
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
		})
	}
}

func TestParseStripsByteOrderMark(t *testing.T) {
	t.Parallel()

	raw := "\ufeff" + testutil.RSSXML("BOM", nil)
	parsed, err := NewParser().Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.EqualFold(parsed.Title, "BOM") {
		t.Fatalf("unexpected title %q", parsed.Title)
	}
}
