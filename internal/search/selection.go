package search

// Selection is the single feed or category currently in view. At most one of
// FeedID and Category is set; both empty means everything.
type Selection struct {
	FeedID   string `json:"feedId,omitempty"`
	Category string `json:"category,omitempty"`
}

// SelectFeed selects feedID and clears any category.
func (s *Selection) SelectFeed(feedID string) {
	s.FeedID = feedID
	s.Category = ""
}

// SelectCategory selects category and clears any feed.
func (s *Selection) SelectCategory(category string) {
	s.Category = category
	s.FeedID = ""
}

func (s *Selection) Clear() {
	*s = Selection{}
}

// ForgetFeed clears the selection if it points at feedID.
func (s *Selection) ForgetFeed(feedID string) bool {
	if s.FeedID == "" || s.FeedID != feedID {
		return false
	}
	s.Clear()
	return true
}

// ForgetCategory clears the selection if it points at category.
func (s *Selection) ForgetCategory(category string) bool {
	if s.Category == "" || s.Category != category {
		return false
	}
	s.Clear()
	return true
}

func (s Selection) IsEmpty() bool {
	return s.FeedID == "" && s.Category == ""
}

// Allows reports whether an article from feedID in category passes the
// selection.
func (s Selection) Allows(feedID, category string) bool {
	switch {
	case s.FeedID != "":
		return s.FeedID == feedID
	case s.Category != "":
		return s.Category == category
	default:
		return true
	}
}
