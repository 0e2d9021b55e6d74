// Package content turns the HTML fragments found in feed items into the
// plain text and image references the article model carries.
package content

import (
	"strings"

	"golang.org/x/net/html"
)

// DescriptionLimit is the rune cap applied to article descriptions.
const DescriptionLimit = 300

var blockTags = map[string]struct{}{
	"address": {}, "article": {}, "blockquote": {}, "br": {}, "dd": {}, "div": {},
	"dl": {}, "dt": {}, "figcaption": {}, "figure": {}, "footer": {}, "h1": {},
	"h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {}, "header": {}, "hr": {},
	"li": {}, "ol": {}, "p": {}, "pre": {}, "section": {}, "table": {}, "td": {},
	"th": {}, "tr": {}, "ul": {},
}

var skippedTags = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "template": {},
}

// PlainText strips markup from an HTML fragment, decodes entities, collapses
// whitespace and caps the result at limit runes. A limit <= 0 disables the cap.
func PlainText(fragment string, limit int) string {
	if !strings.ContainsAny(fragment, "<&") {
		return Truncate(collapseSpace(fragment), limit)
	}

	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skipDepth := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return Truncate(collapseSpace(b.String()), limit)
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if _, ok := skippedTags[tag]; ok {
				skipDepth++
				continue
			}
			if _, ok := blockTags[tag]; ok {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			tag := string(name)
			if _, ok := skippedTags[tag]; ok {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if _, ok := blockTags[tag]; ok {
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			if _, ok := blockTags[string(name)]; ok {
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(tokenizer.Text())
			}
		case html.CommentToken, html.DoctypeToken:
		}
	}
}

// Truncate caps s at limit runes and trims trailing whitespace left by the cut.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == limit {
			return strings.TrimSpace(s[:i])
		}
		count++
	}
	return s
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
