package content

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FirstImage returns the first image referenced by an HTML fragment, resolved
// against baseURL. For an <img> carrying a srcset, the largest candidate wins
// over src.
func FirstImage(fragment, baseURL string) string {
	if !containsImageTargets(fragment) {
		return ""
	}
	root := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), root)
	if err != nil {
		return ""
	}
	base := parseBaseURL(baseURL)
	for _, node := range nodes {
		if found := findImage(node, base); found != "" {
			return found
		}
	}
	return ""
}

func findImage(node *html.Node, base *url.URL) string {
	if node.Type == html.ElementNode {
		switch node.DataAtom {
		case atom.Img:
			if found := imageFromNode(node, base); found != "" {
				return found
			}
		case atom.Source:
			if best := largestSrcsetCandidate(attrValue(node, "srcset")); best != "" {
				if resolved, ok := ResolveURL(best, base); ok {
					return resolved
				}
			}
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findImage(child, base); found != "" {
			return found
		}
	}
	return ""
}

func imageFromNode(node *html.Node, base *url.URL) string {
	if best := largestSrcsetCandidate(attrValue(node, "srcset")); best != "" {
		if resolved, ok := ResolveURL(best, base); ok {
			return resolved
		}
	}
	if resolved, ok := ResolveURL(attrValue(node, "src"), base); ok {
		return resolved
	}
	return ""
}

func attrValue(node *html.Node, key string) string {
	for _, attr := range node.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func containsImageTargets(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "<img") || strings.Contains(lower, "<source")
}
