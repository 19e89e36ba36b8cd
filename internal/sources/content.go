package sources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"

	"horse.fit/leadscan/internal/article"
)

const (
	DefaultContentTimeout   = 5 * time.Second
	DefaultContentByteLimit = 2 * 1024 * 1024
	DefaultContentMaxChars  = 5000

	genericMinChars = 200

	browserUserAgent = "Mozilla/5.0 (compatible; leadscan/1.0)"
)

// DefaultContentHosts are press-release hosts whose pages carry the contact
// block the snippet lacks.
var DefaultContentHosts = []string{"newswire.co.kr"}

type ContentOptions struct {
	Timeout       time.Duration
	BodyByteLimit int64
	MaxChars      int
	UserAgent     string
	HTTPClient    *http.Client
	Hosts         []string
}

// ContentFetcher downloads an article page and extracts its body text.
type ContentFetcher struct {
	timeout   time.Duration
	bodyLimit int64
	maxChars  int
	userAgent string
	client    *http.Client
	hosts     []string
}

func NewContentFetcher(opts ContentOptions) *ContentFetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultContentTimeout
	}
	bodyLimit := opts.BodyByteLimit
	if bodyLimit <= 0 {
		bodyLimit = DefaultContentByteLimit
	}
	maxChars := opts.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultContentMaxChars
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = browserUserAgent
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	hosts := opts.Hosts
	if hosts == nil {
		hosts = DefaultContentHosts
	}
	return &ContentFetcher{
		timeout:   timeout,
		bodyLimit: bodyLimit,
		maxChars:  maxChars,
		userAgent: userAgent,
		client:    client,
		hosts:     hosts,
	}
}

// Wants reports whether link is on a host worth a full-page fetch.
func (f *ContentFetcher) Wants(link string) bool {
	parsed, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, h := range f.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Fetch returns the cleaned page text clipped to the configured length.
func (f *ContentFetcher) Fetch(ctx context.Context, link string) (string, error) {
	page := strings.TrimSpace(link)
	if page == "" {
		return "", fmt.Errorf("link is required")
	}
	pageURL, err := url.Parse(page)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, page, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.bodyLimit))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	var text string
	if strings.HasPrefix(strings.ToLower(resp.Header.Get("Content-Type")), "text/plain") {
		text = CleanText(string(body))
	} else {
		text, err = ExtractContent(pageURL, body)
		if err != nil {
			return "", err
		}
	}
	return article.Truncate(text, f.maxChars), nil
}

// ExtractContent picks the article text out of an HTML page: site-specific
// selectors first, then the common article containers, then readability, then
// the whole body.
func ExtractContent(pageURL *url.URL, body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, nav, footer, iframe, header").Remove()

	if pageURL != nil && strings.Contains(strings.ToLower(pageURL.Hostname()), "newswire.co.kr") {
		main := CleanText(doc.Find("#news-body").First().Text())
		contact := CleanText(doc.Find(".contact-area").First().Text())
		if contact == "" {
			contact = CleanText(doc.Find("#news-contact").First().Text())
		}
		if main != "" {
			if contact != "" {
				return main + "\n\n" + contact, nil
			}
			return main, nil
		}
	}

	generic := CleanText(doc.Find("article, .article-body, .post-content, main, .content").First().Text())
	if utf8.RuneCountInString(generic) > genericMinChars {
		return generic, nil
	}

	if parsed, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
		var rendered bytes.Buffer
		if err := parsed.RenderText(&rendered); err == nil {
			if text := CleanText(rendered.String()); text != "" {
				return text, nil
			}
		}
	}

	text := CleanText(doc.Find("body").Text())
	if text == "" {
		return "", fmt.Errorf("page has no readable text")
	}
	return text, nil
}

// CleanText normalizes line endings and collapses in-line whitespace while
// keeping paragraph breaks.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(line), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}
	return strings.Join(paragraphs, "\n\n")
}
