// Package sources fetches raw news from the configured feeds and the keyword
// search API and normalizes it into articles.
package sources

import (
	"context"
	"net/http"
	"time"

	"horse.fit/leadscan/internal/article"
	"horse.fit/leadscan/internal/settings"
)

const (
	DefaultFeedLimit = 6
	CronFeedLimit    = 10

	defaultUserAgent = "leadscan/1.0 (+https://horse.fit)"
)

// Source is one entry in the round-robin rotation.
type Source interface {
	Label() string
	Fetch(ctx context.Context) ([]article.Article, error)
}

// Options tunes sources built from settings.
type Options struct {
	FeedLimit  int
	SearchDays int
	HTTPClient *http.Client
	Now        func() time.Time
	// NaverEndpoint overrides the search API URL in tests.
	NaverEndpoint string
}

// Build returns the rotation order: the keyword search source first when it is
// usable, then every enabled feed in configured order.
func Build(cfg settings.Settings, opts Options) []Source {
	out := make([]Source, 0, len(cfg.RSSFeeds)+1)
	if cfg.SearchEnabled() {
		out = append(out, NewNaverSource(NaverOptions{
			ClientID:     cfg.NaverClientID,
			ClientSecret: cfg.NaverClientSecret,
			Keywords:     cfg.Keywords,
			Days:         opts.SearchDays,
			Endpoint:     opts.NaverEndpoint,
			HTTPClient:   opts.HTTPClient,
			Now:          opts.Now,
		}))
	}
	for _, feed := range cfg.ActiveFeeds() {
		out = append(out, NewRSSSource(feed, RSSOptions{
			Limit:      opts.FeedLimit,
			HTTPClient: opts.HTTPClient,
			Now:        opts.Now,
		}))
	}
	return out
}

func nowOrDefault(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
