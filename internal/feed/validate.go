package feed

import (
	"net/url"
	"strings"

	"feedflow/internal/content"
)

// feedHints are substrings that mark a URL as a plausible feed endpoint.
var feedHints = []string{"rss", "feed", "atom", "xml", "rdf"}

// NormalizeURL trims raw, defaults the scheme to https and checks that the
// result parses as an absolute URL.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &ValidationError{URL: raw, Reason: "feed URL is required"}
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.ParseRequestURI(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", &ValidationError{URL: raw, Reason: "feed URL looks invalid"}
	}
	return u.String(), nil
}

// ValidateURL normalizes raw and applies the add-feed checks: public http(s)
// host and a URL that looks like a feed endpoint. Failures are
// *ValidationError.
func ValidateURL(raw string) (string, error) {
	normalized, err := NormalizeURL(raw)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", &ValidationError{URL: raw, Reason: "feed URL looks invalid"}
	}
	if !content.IsAllowedURL(u) {
		return "", &ValidationError{URL: raw, Reason: "only public http and https hosts are allowed"}
	}
	if !LooksLikeFeed(u) {
		return "", &ValidationError{URL: raw, Reason: "the address does not look like an RSS or Atom feed"}
	}
	return normalized, nil
}

// LooksLikeFeed reports whether the host, path or query of u mentions a feed
// format.
func LooksLikeFeed(u *url.URL) bool {
	if u == nil {
		return false
	}
	haystack := strings.ToLower(u.Hostname() + " " + u.EscapedPath() + " " + u.RawQuery)
	for _, hint := range feedHints {
		if strings.Contains(haystack, hint) {
			return true
		}
	}
	return false
}

func parseOptionalURL(raw string) *url.URL {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return nil
	}
	return u
}
