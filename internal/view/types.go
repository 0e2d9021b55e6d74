package view

import "time"

// FeedView is response data for one feed in the feed list.
type FeedView struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	URL                string     `json:"url"`
	Link               string     `json:"link,omitempty"`
	Category           string     `json:"category"`
	Favicon            string     `json:"favicon,omitempty"`
	Description        string     `json:"description,omitempty"`
	Enabled            bool       `json:"enabled"`
	ArticleCount       int        `json:"articleCount"`
	State              string     `json:"state"`
	Loading            bool       `json:"loading"`
	Stale              bool       `json:"stale"`
	ErrorCount         int        `json:"errorCount"`
	LastError          string     `json:"lastError,omitempty"`
	LastUpdated        *time.Time `json:"lastUpdated,omitempty"`
	LastUpdatedDisplay string     `json:"lastUpdatedDisplay"`
}

// ArticleView is response data for one article row.
type ArticleView struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	URL              string    `json:"url"`
	Image            string    `json:"image,omitempty"`
	Author           string    `json:"author,omitempty"`
	FeedID           string    `json:"feedId"`
	FeedTitle        string    `json:"feedTitle"`
	Category         string    `json:"category"`
	PubDate          time.Time `json:"pubDate"`
	PublishedDisplay string    `json:"publishedDisplay"`
	PublishedCompact string    `json:"publishedCompact"`
}

// CategoryView is response data for one category toggle.
type CategoryView struct {
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	FeedCount int    `json:"feedCount"`
}

// SelectionView names the active feed or category filter.
type SelectionView struct {
	FeedID   string `json:"feedId,omitempty"`
	Category string `json:"category,omitempty"`
}

// PageView is response data for the article list.
type PageView struct {
	Articles         []ArticleView `json:"articles"`
	Total            int           `json:"total"`
	Shown            int           `json:"shown"`
	HasMore          bool          `json:"hasMore"`
	IsLoading        bool          `json:"isLoading"`
	IsFetching       bool          `json:"isFetching"`
	IsInitialLoading bool          `json:"isInitialLoading"`
	IsSearching      bool          `json:"isSearching"`
	Query            string        `json:"query,omitempty"`
	Selection        SelectionView `json:"selection"`
	Error            string        `json:"error,omitempty"`
}

// StatusView summarizes loader and store state.
type StatusView struct {
	Feeds            int      `json:"feeds"`
	Articles         int      `json:"articles"`
	ArticlesDisplay  string   `json:"articlesDisplay"`
	FailingFeeds     int      `json:"failingFeeds"`
	Replacing        []string `json:"replacing,omitempty"`
	IsFetching       bool     `json:"isFetching"`
	IsInitialLoading bool     `json:"isInitialLoading"`
	AllFailed        bool     `json:"allFailed"`
}

// NoticeView is a transient message about a failed manual refresh.
type NoticeView struct {
	ID        string    `json:"id"`
	FeedID    string    `json:"feedId"`
	FeedTitle string    `json:"feedTitle"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	At        time.Time `json:"at"`
}
