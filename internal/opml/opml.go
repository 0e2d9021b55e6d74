// Package opml parses and writes OPML subscription lists.
package opml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"feedflow/internal/registry"
)

const (
	opmlRootName = "opml"
	opmlVersion  = "2.0"
	xmlIndent    = "  "
	folderSep    = "/"
)

// Subscription describes one feed entry in an OPML document. Category is the
// path of enclosing folder outlines joined with "/".
type Subscription struct {
	Title    string
	URL      string
	Category string
}

// Descriptor converts the subscription into a registry entry keyed by URL.
func (s Subscription) Descriptor() registry.FeedDescriptor {
	return registry.FeedDescriptor{
		ID:       registry.DeriveID(s.URL),
		URL:      s.URL,
		Title:    s.Title,
		Category: s.Category,
	}
}

// FromDescriptors lists descs as subscriptions. The default category is
// written as a top-level outline.
func FromDescriptors(descs []registry.FeedDescriptor) []Subscription {
	out := make([]Subscription, 0, len(descs))
	for _, desc := range descs {
		category := desc.CategoryName()
		if category == registry.DefaultCategory {
			category = ""
		}
		out = append(out, Subscription{Title: desc.Title, URL: desc.URL, Category: category})
	}
	return out
}

type document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr,omitempty"`
	Head    head     `xml:"head"`
	Body    body     `xml:"body"`
}

type head struct {
	Title string `xml:"title,omitempty"`
}

type body struct {
	Outlines []outline `xml:"outline"`
}

type outline struct {
	Text      string    `xml:"text,attr,omitempty"`
	Title     string    `xml:"title,attr,omitempty"`
	Type      string    `xml:"type,attr,omitempty"`
	XMLURL    string    `xml:"xmlUrl,attr,omitempty"`
	XMLURLAlt string    `xml:"xmlurl,attr,omitempty"`
	URL       string    `xml:"url,attr,omitempty"`
	Outlines  []outline `xml:"outline,omitempty"`
}

var errInvalidRoot = errors.New("invalid OPML: expected root <opml>")

// Parse decodes OPML data from r and returns discovered feed subscriptions.
func Parse(r io.Reader) ([]Subscription, error) {
	var doc document

	err := xml.NewDecoder(r).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("invalid OPML: %w", err)
	}

	if !strings.EqualFold(doc.XMLName.Local, opmlRootName) {
		return nil, errInvalidRoot
	}

	var out []Subscription
	collectSubscriptions(doc.Body.Outlines, nil, &out)

	return out, nil
}

// Write encodes subscriptions as an OPML document and writes it to writer.
func Write(writer io.Writer, title string, subscriptions []Subscription) error {
	doc := document{
		XMLName: xml.Name{
			Space: "",
			Local: opmlRootName,
		},
		Version: opmlVersion,
		Head:    head{Title: strings.TrimSpace(title)},
		Body:    body{Outlines: buildOutlines(subscriptions)},
	}

	_, err := io.WriteString(writer, xml.Header)
	if err != nil {
		return fmt.Errorf("write XML header: %w", err)
	}

	encoder := xml.NewEncoder(writer)

	defer func() {
		err = encoder.Close()
		if err != nil {
			slog.Warn("close OPML encoder", "err", err)
		}
	}()

	encoder.Indent("", xmlIndent)

	err = encoder.Encode(doc)
	if err != nil {
		return fmt.Errorf("encode OPML: %w", err)
	}

	flushErr := encoder.Flush()
	if flushErr != nil {
		return fmt.Errorf("flush OPML encoder: %w", flushErr)
	}

	return nil
}

func collectSubscriptions(outlines []outline, path []string, out *[]Subscription) {
	for index := range outlines {
		current := &outlines[index]
		if appendOutlineSubscription(current, path, out) {
			continue
		}

		folder := firstTrimmedValue(current.Title, current.Text)
		nested := path
		if folder != "" {
			nested = append(append([]string{}, path...), folder)
		}
		collectSubscriptions(current.Outlines, nested, out)
	}
}

// buildOutlines writes categorized subscriptions into one folder outline per
// category, in order of first appearance.
func buildOutlines(subscriptions []Subscription) []outline {
	var outlines []outline

	folders := make(map[string]int)

	for _, subscription := range subscriptions {
		feedURL := strings.TrimSpace(subscription.URL)
		if feedURL == "" {
			continue
		}

		feedTitle := strings.TrimSpace(subscription.Title)
		if feedTitle == "" {
			feedTitle = feedURL
		}

		entry := outline{
			Text:   feedTitle,
			Title:  feedTitle,
			Type:   "rss",
			XMLURL: feedURL,
		}

		category := strings.TrimSpace(subscription.Category)
		if category == "" {
			outlines = append(outlines, entry)

			continue
		}

		idx, ok := folders[category]
		if !ok {
			idx = len(outlines)
			folders[category] = idx
			outlines = append(outlines, outline{Text: category, Title: category})
		}
		outlines[idx].Outlines = append(outlines[idx].Outlines, entry)
	}

	return outlines
}

func appendOutlineSubscription(current *outline, path []string, out *[]Subscription) bool {
	feedURL := firstTrimmedValue(
		current.XMLURL,
		current.XMLURLAlt,
		current.URL,
	)
	if feedURL == "" {
		return false
	}

	feedTitle := firstTrimmedValue(current.Title, current.Text)
	if feedTitle == "" {
		feedTitle = feedURL
	}

	*out = append(*out, Subscription{
		Title:    feedTitle,
		URL:      feedURL,
		Category: strings.Join(path, folderSep),
	})

	return true
}

func firstTrimmedValue(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}

	return ""
}
