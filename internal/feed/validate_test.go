package feed

import (
	"errors"
	"testing"
)

func TestValidateURL(t *testing.T) {
	t.Parallel()

	accepted := []struct {
		raw  string
		want string
	}{
		{raw: "https://techcrunch.com/feed/", want: "https://techcrunch.com/feed/"},
		{raw: "feeds.bbci.co.uk/news/rss.xml", want: "https://feeds.bbci.co.uk/news/rss.xml"},
		{raw: "  https://hnrss.org/frontpage ", want: "https://hnrss.org/frontpage"},
		{raw: "https://example.com/index.php?format=atom", want: "https://example.com/index.php?format=atom"},
	}
	for _, tc := range accepted {
		got, err := ValidateURL(tc.raw)
		if err != nil {
			t.Fatalf("ValidateURL(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ValidateURL(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}

	rejected := []string{
		"",
		"   ",
		"https://example.com/about",
		"ftp://example.com/rss.xml",
		"http://localhost/rss.xml",
		"http://10.1.2.3/feed",
		"https://user:pw@example.com/rss",
	}
	for _, raw := range rejected {
		_, err := ValidateURL(raw)
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("ValidateURL(%q): expected ValidationError, got %v", raw, err)
		}
		if IsRetryable(err) {
			t.Fatalf("ValidateURL(%q): validation errors must not be retryable", raw)
		}
	}
}
