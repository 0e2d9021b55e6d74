package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"feedflow/internal/aggregator"
	"feedflow/internal/feed"
	"feedflow/internal/merge"
	"feedflow/internal/registry"
	"feedflow/internal/view"
)

type feedListResponse struct {
	Feeds      []view.FeedView     `json:"feeds"`
	Categories []view.CategoryView `json:"categories"`
}

type addFeedRequest struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type selectRequest struct {
	Feed     string `json:"feed"`
	Category string `json:"category"`
}

type searchRequest struct {
	Query string `json:"query"`
	Flush bool   `json:"flush"`
}

type reorderRequest struct {
	IDs []string `json:"ids"`
}

type reorderResponse struct {
	Order []string `json:"order"`
}

type refreshResponse struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func (a *App) handleArticles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.pageView())
}

func (a *App) handleLoadMore(w http.ResponseWriter, _ *http.Request) {
	started := a.agg.LoadMore()
	if started {
		slog.Debug("load more started", "shown", len(a.agg.VisibleArticles()))
	}

	writeJSON(w, http.StatusOK, a.pageView())
}

func (a *App) pageView() view.PageView {
	now := a.agg.Now()

	sources := make(map[string]merge.Feed)
	for _, state := range a.agg.Feeds() {
		sources[state.ID] = state.Feed
	}

	articles := a.agg.VisibleArticles()
	articleViews := make([]view.ArticleView, 0, len(articles))
	for _, article := range articles {
		articleViews = append(articleViews, view.BuildArticleView(article, sources[article.FeedID], now))
	}

	raw, _ := a.agg.Query()
	selection := a.agg.Selection()

	return view.PageView{
		Articles:         articleViews,
		Total:            a.agg.TotalAvailable(),
		Shown:            len(articleViews),
		HasMore:          a.agg.HasMore(),
		IsLoading:        a.agg.IsLoading(),
		IsFetching:       a.agg.IsFetching(),
		IsInitialLoading: a.agg.IsInitialLoading(),
		IsSearching:      a.agg.IsSearching(),
		Query:            raw,
		Selection:        view.SelectionView{FeedID: selection.FeedID, Category: selection.Category},
		Error:            a.agg.PageState().Message,
	}
}

func (a *App) handleListFeeds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.feedList())
}

func (a *App) feedList() feedListResponse {
	now := a.agg.Now()

	states := a.agg.Feeds()
	feeds := make([]view.FeedView, 0, len(states))
	for _, state := range states {
		feeds = append(feeds, view.BuildFeedView(state.Feed, state.Enabled, state.Articles, state.Status, now))
	}

	categoryStates := a.agg.Categories()
	categories := make([]view.CategoryView, 0, len(categoryStates))
	for _, category := range categoryStates {
		categories = append(categories, view.CategoryView{
			Name:      category.Name,
			Enabled:   category.Enabled,
			FeedCount: category.Feeds,
		})
	}

	return feedListResponse{Feeds: feeds, Categories: categories}
}

func (a *App) feedView(feedID string) (view.FeedView, bool) {
	for _, state := range a.agg.Feeds() {
		if state.ID == feedID {
			return view.BuildFeedView(state.Feed, state.Enabled, state.Articles, state.Status, a.agg.Now()), true
		}
	}

	return view.FeedView{}, false
}

//nolint:gosec // Subscribe logs include request-derived feed URLs for operational visibility.
func (a *App) handleAddFeed(w http.ResponseWriter, r *http.Request) {
	var req addFeedRequest

	err := decodeJSON(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	added, err := a.agg.AddFeed(context.WithoutCancel(r.Context()), registry.FeedDescriptor{
		URL:      req.URL,
		Title:    req.Title,
		Category: req.Category,
	})
	if err != nil {
		slog.Warn("add feed failed", "feed_url", req.URL, "err", err)
		writeError(w, statusForError(err), errorMessage(err))

		return
	}

	created, ok := a.feedView(added.ID)
	if !ok {
		writeError(w, http.StatusConflict, "feed was removed while loading")

		return
	}

	writeJSON(w, http.StatusCreated, created)
}

//nolint:gosec // Delete logs include request-derived feed IDs for operational visibility.
func (a *App) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	feedID := pathParam(r, "feedID")

	err := a.agg.RemoveFeed(r.Context(), feedID)
	if err != nil {
		slog.Warn("delete feed failed", "feed_id", feedID, "err", err)
		writeError(w, statusForError(err), errorMessage(err))

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

//nolint:gosec // Manual refresh logs include request-derived feed IDs for operational visibility.
func (a *App) handleRefreshFeed(w http.ResponseWriter, r *http.Request) {
	feedID := pathParam(r, "feedID")

	err := a.agg.RefreshOne(context.WithoutCancel(r.Context()), feedID)
	if errors.Is(err, aggregator.ErrUnknownFeed) {
		writeError(w, http.StatusNotFound, "feed not found")

		return
	}

	if err != nil {
		slog.Warn("manual refresh failed", "feed_id", feedID, "err", err)
	}

	refreshed, ok := a.feedView(feedID)
	if !ok {
		writeError(w, http.StatusNotFound, "feed not found")

		return
	}

	writeJSON(w, http.StatusOK, refreshed)
}

func (a *App) handleToggleFeed(w http.ResponseWriter, r *http.Request) {
	feedID := pathParam(r, "feedID")

	var req toggleRequest

	err := decodeJSON(w, r, &req)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	enabled := !a.agg.Enablement().FeedEnabled(feedID)
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	err = a.agg.ToggleFeed(feedID, enabled)
	if err != nil {
		writeError(w, statusForError(err), errorMessage(err))

		return
	}

	writeJSON(w, http.StatusOK, a.feedList())
}

func (a *App) handleToggleCategory(w http.ResponseWriter, r *http.Request) {
	category := pathParam(r, "category")

	var req toggleRequest

	err := decodeJSON(w, r, &req)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	enabled := !a.agg.Enablement().CategoryEnabled(category)
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	err = a.agg.ToggleCategory(category, enabled)
	if err != nil {
		writeError(w, statusForError(err), errorMessage(err))

		return
	}

	writeJSON(w, http.StatusOK, a.feedList())
}

func (a *App) handleReorderFeeds(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest

	err := decodeJSON(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	order, err := a.agg.ReorderFeeds(r.Context(), req.IDs)
	if err != nil {
		slog.Warn("reorder feeds failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to save feed order")

		return
	}

	writeJSON(w, http.StatusOK, reorderResponse{Order: order})
}

func (a *App) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest

	decodeErr := decodeJSON(w, r, &req)
	if decodeErr != nil && !errors.Is(decodeErr, errEmptyBody) {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	var err error

	feedID := strings.TrimSpace(req.Feed)
	category := strings.TrimSpace(req.Category)

	switch {
	case feedID != "" && category != "":
		writeError(w, http.StatusBadRequest, "select either a feed or a category")

		return
	case feedID != "":
		err = a.agg.SelectFeed(feedID)
	case category != "":
		err = a.agg.SelectCategory(category)
	default:
		a.agg.ClearSelection()
	}

	if err != nil {
		writeError(w, statusForError(err), errorMessage(err))

		return
	}

	writeJSON(w, http.StatusOK, a.pageView())
}

func (a *App) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest

	err := decodeJSON(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	a.agg.Search(req.Query)
	if req.Flush {
		a.agg.FlushSearch()
	}

	writeJSON(w, http.StatusOK, a.pageView())
}

func (a *App) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	summary := a.agg.Refresh(context.WithoutCancel(r.Context()))

	slog.Info("manual refresh finished", "succeeded", summary.Succeeded, "failed", summary.Failed)
	writeJSON(w, http.StatusOK, refreshResponse{Succeeded: summary.Succeeded, Failed: summary.Failed})
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, view.BuildStatusView(
		a.agg.Stats(),
		a.agg.Replacing(),
		a.agg.IsFetching(),
		a.agg.IsInitialLoading(),
		a.agg.AllFailed(),
	))
}

func (a *App) handleNotices(w http.ResponseWriter, _ *http.Request) {
	notices := a.agg.Notices()

	views := make([]view.NoticeView, 0, len(notices))
	for _, notice := range notices {
		views = append(views, view.NoticeView{
			ID:        notice.ID,
			FeedID:    notice.FeedID,
			FeedTitle: notice.FeedTitle,
			Kind:      notice.Kind,
			Message:   notice.Message,
			Retryable: notice.Retryable,
			At:        notice.At,
		})
	}

	writeJSON(w, http.StatusOK, views)
}

func (a *App) handleDismissNotice(w http.ResponseWriter, r *http.Request) {
	if !a.agg.DismissNotice(pathParam(r, "noticeID")) {
		writeError(w, http.StatusNotFound, "notice not found")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func statusForError(err error) int {
	var validationErr *feed.ValidationError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.Is(err, aggregator.ErrDuplicateFeed), errors.Is(err, registry.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, aggregator.ErrUnknownFeed), errors.Is(err, aggregator.ErrUnknownCategory):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	var validationErr *feed.ValidationError

	switch {
	case errors.As(err, &validationErr):
		return validationErr.Reason
	case errors.Is(err, aggregator.ErrDuplicateFeed), errors.Is(err, registry.ErrDuplicateID):
		return "feed already subscribed"
	case errors.Is(err, aggregator.ErrUnknownFeed):
		return "feed not found"
	case errors.Is(err, aggregator.ErrUnknownCategory):
		return "category not found"
	default:
		return "internal error"
	}
}
