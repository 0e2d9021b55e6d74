package feed

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"feedflow/internal/content"
)

const untitledArticle = "No title"

var articleNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("feedflow:article"))

// Article is one normalized feed item.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	PubDate     time.Time `json:"pubDate"`
	FeedID      string    `json:"feedId"`
	Image       string    `json:"image,omitempty"`
	Author      string    `json:"author,omitempty"`
}

// FeedMeta is the feed-level metadata of a successful load.
type FeedMeta struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
	Image       string `json:"image,omitempty"`
}

// Result is one successful load.
type Result struct {
	Feed      FeedMeta
	Articles  []Article
	FetchedAt time.Time
}

// ArticleID derives the stable identifier of an item: a name-based UUID over
// the feed id and the most specific key the item carries.
func ArticleID(feedID string, item *gofeed.Item, index int) string {
	return uuid.NewSHA1(articleNamespace, []byte(feedID+"\x00"+articleKey(item, index))).String()
}

func articleKey(item *gofeed.Item, index int) string {
	if item != nil {
		if guid := strings.TrimSpace(item.GUID); guid != "" {
			return "guid:" + guid
		}
		if link := strings.TrimSpace(item.Link); link != "" {
			return "link:" + link
		}
		title := strings.TrimSpace(item.Title)
		published := strings.TrimSpace(item.Published)
		if title != "" || published != "" {
			return "title:" + title + "\x00" + published
		}
	}
	return "index:" + strconv.Itoa(index)
}

func normalizeItems(feedID string, items []*gofeed.Item, fetchedAt time.Time) []Article {
	articles := make([]Article, 0, len(items))
	for idx, item := range items {
		if item == nil {
			continue
		}
		articles = append(articles, normalizeItem(feedID, item, idx, fetchedAt))
	}
	return articles
}

func normalizeItem(feedID string, item *gofeed.Item, index int, fetchedAt time.Time) Article {
	link := itemLink(item)
	return Article{
		ID:          ArticleID(feedID, item, index),
		Title:       itemTitle(item),
		Description: content.PlainText(firstNonEmpty(item.Description, item.Content), content.DescriptionLimit),
		URL:         link,
		PubDate:     itemPubDate(item, fetchedAt),
		FeedID:      feedID,
		Image:       itemImage(item, link),
		Author:      itemAuthor(item),
	}
}

func itemTitle(item *gofeed.Item) string {
	if title := content.PlainText(item.Title, 0); title != "" {
		return title
	}
	return untitledArticle
}

func itemLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	for _, link := range item.Links {
		if trimmed := strings.TrimSpace(link); trimmed != "" {
			return trimmed
		}
	}
	guid := strings.TrimSpace(item.GUID)
	if strings.HasPrefix(guid, "http://") || strings.HasPrefix(guid, "https://") {
		return guid
	}
	return ""
}

func itemPubDate(item *gofeed.Item, fetchedAt time.Time) time.Time {
	if item.PublishedParsed != nil && !item.PublishedParsed.IsZero() {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil && !item.UpdatedParsed.IsZero() {
		return item.UpdatedParsed.UTC()
	}
	return fetchedAt.UTC()
}

func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil {
		if name := strings.TrimSpace(item.Author.Name); name != "" {
			return name
		}
	}
	for _, author := range item.Authors {
		if author == nil {
			continue
		}
		if name := strings.TrimSpace(author.Name); name != "" {
			return name
		}
	}
	return ""
}

func itemImage(item *gofeed.Item, link string) string {
	base := parseOptionalURL(link)
	for _, enclosure := range item.Enclosures {
		if enclosure == nil || !strings.HasPrefix(strings.ToLower(enclosure.Type), "image") {
			continue
		}
		if resolved, ok := content.ResolveURL(enclosure.URL, base); ok {
			return resolved
		}
	}
	if candidate := mediaImage(item.Extensions); candidate != "" {
		if resolved, ok := content.ResolveURL(candidate, base); ok {
			return resolved
		}
	}
	if item.Image != nil {
		if resolved, ok := content.ResolveURL(item.Image.URL, base); ok {
			return resolved
		}
	}
	if found := content.FirstImage(item.Description, link); found != "" {
		return found
	}
	return content.FirstImage(item.Content, link)
}

// mediaImage reads media:content, falling back to media:thumbnail, including
// entries nested under media:group.
func mediaImage(extensions ext.Extensions) string {
	media, ok := extensions["media"]
	if !ok {
		return ""
	}
	if found := mediaImageFrom(media); found != "" {
		return found
	}
	for _, group := range media["group"] {
		if found := mediaImageFrom(group.Children); found != "" {
			return found
		}
	}
	return ""
}

func mediaImageFrom(elements map[string][]ext.Extension) string {
	for _, entry := range elements["content"] {
		medium := strings.ToLower(entry.Attrs["medium"])
		mimeType := strings.ToLower(entry.Attrs["type"])
		if medium != "" && medium != "image" {
			continue
		}
		if mimeType != "" && !strings.HasPrefix(mimeType, "image") {
			continue
		}
		if url := strings.TrimSpace(entry.Attrs["url"]); url != "" {
			return url
		}
	}
	for _, entry := range elements["thumbnail"] {
		if url := strings.TrimSpace(entry.Attrs["url"]); url != "" {
			return url
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
