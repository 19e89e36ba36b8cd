package enrich

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrRateLimited marks a provider response that should be retried after a backoff.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrMalformedResponse marks a provider reply that did not contain a valid analysis.
	ErrMalformedResponse = errors.New("malformed analysis response")
	// ErrAllProvidersFailed is returned when the primary and every fallback failed.
	ErrAllProvidersFailed = errors.New("all enrichment providers failed")
	ErrNoProviders        = errors.New("no enrichment providers configured")
)

// Analysis is the structured result extracted from one article.
type Analysis struct {
	CompanyName    string `json:"company_name"`
	EventSummary   string `json:"event_summary"`
	TargetAudience string `json:"target_audience"`
	FitReason      string `json:"fit_reason"`
	SalesAngle     string `json:"sales_angle"`
	AIScore        int    `json:"ai_score"`
	ContactEmail   string `json:"contact_email,omitempty"`
	ContactPhone   string `json:"contact_phone,omitempty"`
	PRAgency       string `json:"pr_agency,omitempty"`
	HomepageURL    string `json:"homepage_url,omitempty"`
}

// Request is the input handed to a provider.
type Request struct {
	Title     string
	Content   string
	SourceTag string
	Language  string
	// Strict asks the provider to append a stronger JSON-only reminder; set on
	// the retry after a malformed reply.
	Strict bool
}

// Provider analyzes one article. Implementations return an error wrapping
// ErrRateLimited on HTTP 429 so the chain can back off.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, req Request) (Analysis, error)
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._-]+@[a-zA-Z0-9._-]+\.[a-zA-Z0-9._-]+`)
	phonePattern = regexp.MustCompile(`0\d{1,2}-\d{3,4}-\d{4}`)
	urlPattern   = regexp.MustCompile(`https?://[^\s"'<>)]+`)
)

// fillContactFallback extracts contact details the model left empty from the
// raw text.
func (a *Analysis) fillContactFallback(texts ...string) {
	for _, text := range texts {
		if a.ContactEmail == "" {
			a.ContactEmail = emailPattern.FindString(text)
		}
		if a.ContactPhone == "" {
			a.ContactPhone = phonePattern.FindString(text)
		}
		if a.HomepageURL == "" {
			a.HomepageURL = detectHomepage(text)
		}
	}
}

func detectHomepage(text string) string {
	for _, candidate := range urlPattern.FindAllString(text, -1) {
		if strings.Contains(candidate, "newswire.co.kr") {
			continue
		}
		return strings.TrimRight(candidate, ".,;")
	}
	return ""
}
