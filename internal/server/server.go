// Package server exposes the aggregator over a JSON HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"feedflow/internal/aggregator"
	"feedflow/internal/metrics"
)

const (
	maxOPMLUploadBytes int64 = 2 << 20
	maxJSONBodyBytes   int64 = 64 << 10
	exportTitle              = "Feedflow Subscriptions"
)

var errEmptyBody = errors.New("request body is empty")

// App wires HTTP handlers to the aggregator.
type App struct {
	agg     *aggregator.Aggregator
	metrics *metrics.Metrics
}

// New constructs an App. m may be nil, in which case /metrics is not served.
func New(agg *aggregator.Aggregator, m *metrics.Metrics) *App {
	return &App{agg: agg, metrics: m}
}

// Routes returns the fully configured application HTTP handler.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()
	a.wrapRoutes(r)
	a.registerCoreRoutes(r)
	a.registerFeedRoutes(r)

	return r
}

func (a *App) registerCoreRoutes(r chi.Router) {
	r.Get("/healthz", a.handleHealthz)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}
	r.Get("/opml/export", a.handleExportOPML)
	r.Post("/opml/import", a.handleImportOPML)
}

func (a *App) registerFeedRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/articles", a.handleArticles)
		r.Post("/articles/more", a.handleLoadMore)

		r.Get("/feeds", a.handleListFeeds)
		r.Post("/feeds", a.handleAddFeed)
		r.Post("/feeds/order", a.handleReorderFeeds)
		r.Delete("/feeds/{feedID}", a.handleDeleteFeed)
		r.Post("/feeds/{feedID}/refresh", a.handleRefreshFeed)
		r.Post("/feeds/{feedID}/toggle", a.handleToggleFeed)
		r.Post("/categories/{category}/toggle", a.handleToggleCategory)

		r.Post("/select", a.handleSelect)
		r.Post("/search", a.handleSearch)
		r.Post("/refresh", a.handleRefreshAll)
		r.Get("/status", a.handleStatus)
		r.Get("/notices", a.handleNotices)
		r.Delete("/notices/{noticeID}", a.handleDismissNotice)
	})
}

func (a *App) wrapRoutes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.withRequestLog)
	r.Use(middleware.Recoverer)
	r.Use(a.withSecurityHeaders)
}

func (*App) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		next.ServeHTTP(w, r)
	})
}

func (*App) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (*App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	_, err := w.Write([]byte("ok"))
	if err != nil {
		slog.Warn("write healthz response failed")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		slog.Warn("write json response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	err := decoder.Decode(dst)
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}

	return err
}

// pathParam returns the decoded route parameter. chi matches on the escaped
// path when one is present, so values such as "Tech%2FGo" arrive escaped.
func pathParam(r *http.Request, key string) string {
	value := chi.URLParam(r, key)
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(value)
		if err == nil {
			value = unescaped
		}
	}

	return strings.TrimSpace(value)
}
