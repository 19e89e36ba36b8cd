package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const discoverTimeout = 7 * time.Second

var (
	ErrInvalidFeedURL = errors.New("url must start with http:// or https://")
	ErrNoFeedFound    = errors.New("no RSS/Atom feed discovered")
)

type Discovery struct {
	FeedURL   string `json:"feedUrl"`
	Title     string `json:"title"`
	ItemCount int    `json:"itemCount"`
}

// DiscoverFeed resolves a site or feed URL to a parseable feed. The URL is
// first parsed as a feed directly; otherwise the page's alternate links are
// tried in document order.
func DiscoverFeed(ctx context.Context, client *http.Client, rawURL string) (Discovery, error) {
	page := strings.TrimSpace(rawURL)
	if !strings.HasPrefix(page, "http://") && !strings.HasPrefix(page, "https://") {
		return Discovery{}, ErrInvalidFeedURL
	}
	if client == nil {
		client = &http.Client{Timeout: discoverTimeout}
	}

	if found, err := probeFeed(ctx, client, page); err == nil {
		return found, nil
	}

	candidates, err := alternateFeedLinks(ctx, client, page)
	if err != nil {
		return Discovery{}, err
	}
	if len(candidates) == 0 {
		return Discovery{}, ErrNoFeedFound
	}
	for _, candidate := range candidates {
		if found, err := probeFeed(ctx, client, candidate); err == nil {
			return found, nil
		}
	}
	return Discovery{}, fmt.Errorf("no valid RSS/Atom feed found among %d candidates", len(candidates))
}

func probeFeed(ctx context.Context, client *http.Client, feedURL string) (Discovery, error) {
	parsed, err := parseFeedURL(ctx, client, feedURL)
	if err != nil {
		return Discovery{}, err
	}
	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		title = "(untitled)"
	}
	return Discovery{FeedURL: feedURL, Title: title, ItemCount: len(parsed.Items)}, nil
}

func alternateFeedLinks(ctx context.Context, client *http.Client, page string) ([]string, error) {
	base, err := url.Parse(page)
	if err != nil {
		return nil, ErrInvalidFeedURL
	}

	reqCtx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, page, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, DefaultContentByteLimit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 64)])))
	isHTML := strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") ||
		strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
	if !isHTML {
		return nil, fmt.Errorf("url does not return HTML content")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var out []string
	doc.Find(`link[rel="alternate"]`).Each(func(_ int, sel *goquery.Selection) {
		kind := strings.ToLower(sel.AttrOr("type", ""))
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" {
			return
		}
		if !strings.Contains(kind, "rss") && !strings.Contains(kind, "atom") && !strings.Contains(kind, "rdf") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		out = append(out, base.ResolveReference(ref).String())
	})
	return out, nil
}
