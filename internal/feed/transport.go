package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"feedflow/internal/content"
)

const (
	DefaultUserAgent    = "feedflow/1.0 (+https://github.com/feedflow)"
	DefaultMaxBodyBytes = 5 << 20
	feedFetchTimeout    = 15 * time.Second
	maxRedirects        = 5
	acceptHeader        = "application/rss+xml, application/atom+xml, application/rdf+xml;q=0.9, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5"
)

var (
	errBodyTooLarge     = errors.New("response body exceeds size limit")
	errTooManyRedirects = errors.New("too many redirects")
	errRedirectBlocked  = errors.New("redirect target is not allowed")
)

// envelopeKeys are the JSON fields CORS proxies use to carry the upstream body.
var envelopeKeys = []string{"contents", "body", "data"}

// Transport fetches the raw body of a remote feed.
type Transport interface {
	Fetch(ctx context.Context, feedURL string) (string, error)
}

type TransportOptions struct {
	// Client defaults to a client with a 15s timeout and a redirect policy
	// that refuses private hosts.
	Client *http.Client
	// Proxies are tried in order as prefix + url.QueryEscape(feedURL). With
	// no proxies the feed is requested directly.
	Proxies      []string
	UserAgent    string
	MaxBodyBytes int64
	// RatePerHost bounds requests per second to any single host. Zero
	// disables limiting.
	RatePerHost rate.Limit
	Burst       int
}

// HTTPTransport is the production Transport.
type HTTPTransport struct {
	client    *http.Client
	proxies   []string
	userAgent string
	maxBody   int64
	limit     rate.Limit
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewHTTPTransport(opts TransportOptions) *HTTPTransport {
	client := opts.Client
	if client == nil {
		client = NewHTTPClient(feedFetchTimeout)
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	proxies := make([]string, 0, len(opts.Proxies))
	for _, proxy := range opts.Proxies {
		if trimmed := strings.TrimSpace(proxy); trimmed != "" {
			proxies = append(proxies, trimmed)
		}
	}
	return &HTTPTransport{
		client:    client,
		proxies:   proxies,
		userAgent: userAgent,
		maxBody:   maxBody,
		limit:     opts.RatePerHost,
		burst:     burst,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// NewHTTPClient returns a client whose redirects may not leave the public
// internet.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}
			if !content.IsAllowedURL(req.URL) {
				return errRedirectBlocked
			}
			return nil
		},
	}
}

func (t *HTTPTransport) Fetch(ctx context.Context, feedURL string) (string, error) {
	if len(t.proxies) == 0 {
		return t.fetchOnce(ctx, feedURL, feedURL)
	}
	var lastErr error
	for i, prefix := range t.proxies {
		body, err := t.fetchOnce(ctx, prefix+url.QueryEscape(feedURL), feedURL)
		if err == nil {
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", &TransportError{URL: feedURL, Err: ctxErr}
		}
		slog.Debug("proxy fetch failed",
			"feed_url", feedURL,
			"proxy", prefix,
			"proxy_index", i+1,
			"proxy_count", len(t.proxies),
			"err", err,
		)
		lastErr = err
	}
	return "", lastErr
}

func (t *HTTPTransport) fetchOnce(ctx context.Context, requestURL, feedURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return "", &TransportError{URL: feedURL, Err: err}
	}
	if err := t.wait(ctx, req.URL.Host); err != nil {
		return "", &TransportError{URL: feedURL, Err: err}
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", &TransportError{URL: feedURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &HTTPStatusError{URL: feedURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	if err != nil {
		return "", &TransportError{URL: feedURL, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(data)) > t.maxBody {
		return "", &TransportError{URL: feedURL, Err: errBodyTooLarge}
	}
	return unwrapEnvelope(data), nil
}

func (t *HTTPTransport) wait(ctx context.Context, host string) error {
	if t.limit <= 0 {
		return nil
	}
	return t.limiter(host).Wait(ctx)
}

func (t *HTTPTransport) limiter(host string) *rate.Limiter {
	key := strings.ToLower(host)
	t.mu.Lock()
	defer t.mu.Unlock()
	limiter, ok := t.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(t.limit, t.burst)
		t.limiters[key] = limiter
	}
	return limiter
}

// unwrapEnvelope extracts the upstream document from a proxy's JSON wrapper.
// Bodies that are not such a wrapper are returned unchanged.
func unwrapEnvelope(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return string(data)
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return string(data)
	}
	for _, key := range envelopeKeys {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err == nil && strings.TrimSpace(text) != "" {
			return text
		}
	}
	return string(data)
}
