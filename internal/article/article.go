package article

import (
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

const (
	SourceRSS   = "RSS"
	SourceNaver = "NAVER"
)

// Article is the canonical shape every source is normalized into.
type Article struct {
	Title          string    `json:"title"`
	Link           string    `json:"link"`
	ContentSnippet string    `json:"contentSnippet"`
	PubDate        time.Time `json:"pubDate"`
	SourceTag      string    `json:"sourceTag"`
	SourceCategory string    `json:"sourceCategory"`
	MatchedKeyword string    `json:"matchedKeyword,omitempty"`
	Language       string    `json:"language,omitempty"`
}

// RawEntry is the loosely-typed payload a source hands to Normalize.
type RawEntry struct {
	Title        string
	Link         string
	OriginalLink string
	Description  string
	Published    *time.Time
	Updated      *time.Time
	SourceTag    string
	Category     string
	Keyword      string
}

// Normalize converts a raw entry into an Article. Entries without a usable
// link are rejected (ok=false) so the caller can count and drop them.
func Normalize(raw RawEntry, now time.Time) (Article, bool) {
	link := strings.TrimSpace(raw.OriginalLink)
	if link == "" {
		link = strings.TrimSpace(raw.Link)
	}
	canonical, err := Canonicalize(link)
	if err != nil {
		return Article{}, false
	}

	pub := now
	switch {
	case raw.Published != nil && !raw.Published.IsZero():
		pub = *raw.Published
	case raw.Updated != nil && !raw.Updated.IsZero():
		pub = *raw.Updated
	}

	tag := strings.ToUpper(strings.TrimSpace(raw.SourceTag))
	if tag == "" {
		tag = SourceRSS
	}

	return Article{
		Title:          StripHTML(raw.Title),
		Link:           canonical,
		ContentSnippet: StripHTML(raw.Description),
		PubDate:        pub.UTC(),
		SourceTag:      tag,
		SourceCategory: strings.TrimSpace(raw.Category),
		MatchedKeyword: strings.TrimSpace(raw.Keyword),
	}, true
}

// LeadID returns the stable identifier derived from the article link.
func (a Article) LeadID() string {
	canonical, err := Canonicalize(a.Link)
	if err != nil {
		return LeadID(strings.TrimSpace(a.Link))
	}
	return LeadID(canonical)
}

// StripHTML returns the visible text of an HTML fragment with entities decoded
// and whitespace collapsed.
func StripHTML(fragment string) string {
	trimmed := strings.TrimSpace(fragment)
	if trimmed == "" {
		return ""
	}
	if !strings.ContainsAny(trimmed, "<&") {
		return collapseSpace(trimmed)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return collapseSpace(trimmed)
	}
	return collapseSpace(doc.Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// Truncate clips s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
