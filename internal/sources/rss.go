package sources

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"horse.fit/leadscan/internal/article"
	"horse.fit/leadscan/internal/langdetect"
	"horse.fit/leadscan/internal/settings"
)

const defaultFeedTimeout = 10 * time.Second

type RSSOptions struct {
	Limit      int
	HTTPClient *http.Client
	Now        func() time.Time
}

// RSSSource reads one RSS/Atom feed.
type RSSSource struct {
	feed   settings.Feed
	limit  int
	client *http.Client
	now    func() time.Time
}

func NewRSSSource(feed settings.Feed, opts RSSOptions) *RSSSource {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultFeedTimeout}
	}
	return &RSSSource{
		feed:   feed,
		limit:  limit,
		client: client,
		now:    nowOrDefault(opts.Now),
	}
}

func (s *RSSSource) Label() string {
	if c := strings.TrimSpace(s.feed.Category); c != "" {
		return c
	}
	if t := strings.TrimSpace(s.feed.Title); t != "" {
		return t
	}
	return s.feed.URL
}

func (s *RSSSource) Fetch(ctx context.Context) ([]article.Article, error) {
	parsed, err := parseFeedURL(ctx, s.client, s.feed.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", s.feed.URL, err)
	}

	now := s.now()
	category := s.Label()
	declared := langdetect.NormalizeCode(parsed.Language)
	out := make([]article.Article, 0, min(len(parsed.Items), s.limit))
	for _, item := range parsed.Items {
		if len(out) == s.limit {
			break
		}
		if item == nil {
			continue
		}
		description := item.Description
		if strings.TrimSpace(description) == "" {
			description = item.Content
		}
		a, ok := article.Normalize(article.RawEntry{
			Title:       item.Title,
			Link:        item.Link,
			Description: description,
			Published:   item.PublishedParsed,
			Updated:     item.UpdatedParsed,
			SourceTag:   article.SourceRSS,
			Category:    category,
		}, now)
		if !ok {
			continue
		}
		a.Language = declared
		out = append(out, a)
	}
	return out, nil
}

func parseFeedURL(ctx context.Context, client *http.Client, feedURL string) (*gofeed.Feed, error) {
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = defaultUserAgent
	return parser.ParseURLWithContext(feedURL, ctx)
}
