package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"horse.fit/leadscan/internal/article"
)

const (
	NaverEndpoint = "https://openapi.naver.com/v1/search/news.json"
	NaverLabel    = "네이버 뉴스"

	naverMaxKeywords    = 5
	naverPageSize       = 100
	naverMaxStart       = 1000
	naverRequestTimeout = 10 * time.Second
)

type NaverOptions struct {
	ClientID     string
	ClientSecret string
	Keywords     []string
	// Days drops items older than the window and stops paging once a page
	// reaches past it. Zero disables the cutoff.
	Days int
	// MaxItemsPerKeyword caps collected items per keyword; zero means 1000.
	MaxItemsPerKeyword int
	Endpoint           string
	HTTPClient         *http.Client
	Now                func() time.Time
}

// NaverSource searches the news API for each configured keyword.
type NaverSource struct {
	opts   NaverOptions
	client *http.Client
	now    func() time.Time
}

func NewNaverSource(opts NaverOptions) *NaverSource {
	if strings.TrimSpace(opts.Endpoint) == "" {
		opts.Endpoint = NaverEndpoint
	}
	if opts.MaxItemsPerKeyword <= 0 {
		opts.MaxItemsPerKeyword = naverMaxStart
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: naverRequestTimeout}
	}
	return &NaverSource{opts: opts, client: client, now: nowOrDefault(opts.Now)}
}

func (s *NaverSource) Label() string { return NaverLabel }

// Fetch queries up to five keywords in parallel. A failing keyword keeps
// whatever pages it already collected; the call errors only when every
// keyword failed without results.
func (s *NaverSource) Fetch(ctx context.Context) ([]article.Article, error) {
	if strings.TrimSpace(s.opts.ClientID) == "" || strings.TrimSpace(s.opts.ClientSecret) == "" {
		return nil, fmt.Errorf("naver credentials are not configured")
	}
	keywords := make([]string, 0, naverMaxKeywords)
	for _, k := range s.opts.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
		if len(keywords) == naverMaxKeywords {
			break
		}
	}
	if len(keywords) == 0 {
		return nil, nil
	}

	results := make([][]article.Article, len(keywords))
	errs := make([]error, len(keywords))
	var g errgroup.Group
	for i, keyword := range keywords {
		g.Go(func() error {
			results[i], errs[i] = s.fetchKeyword(ctx, keyword)
			return nil
		})
	}
	_ = g.Wait()

	var out []article.Article
	for _, items := range results {
		out = append(out, items...)
	}
	if len(out) == 0 {
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type naverResponse struct {
	Items []naverItem `json:"items"`
}

type naverItem struct {
	Title        string `json:"title"`
	OriginalLink string `json:"originallink"`
	Link         string `json:"link"`
	Description  string `json:"description"`
	PubDate      string `json:"pubDate"`
}

func (s *NaverSource) fetchKeyword(ctx context.Context, keyword string) ([]article.Article, error) {
	now := s.now()
	var cutoff time.Time
	if s.opts.Days > 0 {
		cutoff = now.Add(-time.Duration(s.opts.Days) * 24 * time.Hour)
	}

	collected := make([]article.Article, 0, naverPageSize)
	for start := 1; start <= naverMaxStart && len(collected) < s.opts.MaxItemsPerKeyword; start += naverPageSize {
		page, err := s.fetchPage(ctx, keyword, start)
		if err != nil {
			return collected, fmt.Errorf("naver keyword %q: %w", keyword, err)
		}
		if len(page.Items) == 0 {
			break
		}

		var oldest time.Time
		for _, item := range page.Items {
			var pub *time.Time
			if parsed, err := time.Parse(time.RFC1123Z, strings.TrimSpace(item.PubDate)); err == nil {
				pub = &parsed
				if oldest.IsZero() || parsed.Before(oldest) {
					oldest = parsed
				}
			}
			if !cutoff.IsZero() && (pub == nil || pub.Before(cutoff)) {
				continue
			}
			a, ok := article.Normalize(article.RawEntry{
				Title:        item.Title,
				Link:         item.Link,
				OriginalLink: item.OriginalLink,
				Description:  item.Description,
				Published:    pub,
				SourceTag:    article.SourceNaver,
				Category:     NaverLabel,
				Keyword:      keyword,
			}, now)
			if ok {
				collected = append(collected, a)
			}
		}

		if !cutoff.IsZero() && !oldest.IsZero() && oldest.Before(cutoff) {
			break
		}
		if len(page.Items) < naverPageSize {
			break
		}
	}

	if len(collected) > s.opts.MaxItemsPerKeyword {
		collected = collected[:s.opts.MaxItemsPerKeyword]
	}
	return collected, nil
}

func (s *NaverSource) fetchPage(ctx context.Context, keyword string, start int) (naverResponse, error) {
	params := url.Values{}
	params.Set("query", keyword)
	params.Set("display", strconv.Itoa(naverPageSize))
	params.Set("sort", "date")
	params.Set("start", strconv.Itoa(start))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return naverResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Naver-Client-Id", s.opts.ClientID)
	req.Header.Set("X-Naver-Client-Secret", s.opts.ClientSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return naverResponse{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return naverResponse{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out naverResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return naverResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
