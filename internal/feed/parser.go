package feed

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html/charset"
)

var (
	errEmptyDocument = errors.New("empty document")
	errNoChannel     = errors.New("no channel element found")
	errNoRoot        = errors.New("no root element found")
)

// ParsedFeed is the feed-level data and raw items of one parsed document.
type ParsedFeed struct {
	Title       string
	Description string
	Link        string
	Image       string
	Items       []*gofeed.Item
}

// Parser turns raw RSS, RDF, Atom or JSON Feed documents into ParsedFeed
// values. It is safe for concurrent use.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse returns a *ParseError for malformed documents and for RSS or RDF
// documents without a channel.
func (p *Parser) Parse(raw string) (ParsedFeed, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
	if raw == "" {
		return ParsedFeed{}, &ParseError{Err: errEmptyDocument}
	}
	if !strings.HasPrefix(raw, "{") {
		if err := checkStructure(raw); err != nil {
			return ParsedFeed{}, &ParseError{Err: err}
		}
	}

	// gofeed.Parser keeps per-call state, so each parse gets its own.
	parsed, err := gofeed.NewParser().ParseString(raw)
	if err != nil {
		return ParsedFeed{}, &ParseError{Err: err}
	}

	out := ParsedFeed{
		Title:       strings.TrimSpace(parsed.Title),
		Description: strings.TrimSpace(parsed.Description),
		Link:        strings.TrimSpace(parsed.Link),
		Items:       parsed.Items,
	}
	if parsed.Image != nil {
		out.Image = strings.TrimSpace(parsed.Image.URL)
	}
	return out, nil
}

// checkStructure walks the whole document once. It rejects XML that does not
// tokenize, unknown root elements and RSS or RDF roots without a channel.
func checkStructure(raw string) error {
	decoder := xml.NewDecoder(strings.NewReader(raw))
	decoder.Strict = false
	decoder.Entity = xml.HTMLEntity
	decoder.CharsetReader = charset.NewReaderLabel

	root := ""
	sawChannel := false
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("invalid xml: %w", err)
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		name := strings.ToLower(start.Name.Local)
		if root == "" {
			root = name
			switch root {
			case "rss", "rdf", "feed":
			default:
				return fmt.Errorf("unsupported document root <%s>", start.Name.Local)
			}
			continue
		}
		if name == "channel" {
			sawChannel = true
		}
	}

	switch {
	case root == "":
		return errNoRoot
	case root != "feed" && !sawChannel:
		return errNoChannel
	}
	return nil
}
