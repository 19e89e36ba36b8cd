// Package dedup collapses duplicate articles within one batch.
package dedup

import (
	"strings"
	"time"

	"horse.fit/leadscan/internal/article"
)

// ByLink keeps the first article for each canonical link. Articles whose link
// cannot be canonicalized are dropped.
func ByLink(articles []article.Article) []article.Article {
	seen := make(map[string]struct{}, len(articles))
	out := make([]article.Article, 0, len(articles))
	for _, a := range articles {
		canonical, err := article.Canonicalize(a.Link)
		if err != nil {
			continue
		}
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, a)
	}
	return out
}

// Entry is what ByCompany needs to know about an item.
type Entry struct {
	Company string
	PubDate time.Time
	Score   int
}

// ByCompany keeps one item per normalized company name: the newest by publish
// date, ties broken by the higher score. Items without a company are always
// kept. The surviving item takes the position of the company's first
// occurrence.
func ByCompany[T any](items []T, entry func(T) Entry) []T {
	best := make(map[string]int)
	out := make([]T, 0, len(items))
	for _, item := range items {
		e := entry(item)
		key := CompanyKey(e.Company)
		if key == "" {
			out = append(out, item)
			continue
		}
		idx, ok := best[key]
		if !ok {
			best[key] = len(out)
			out = append(out, item)
			continue
		}
		if newer(e, entry(out[idx])) {
			out[idx] = item
		}
	}
	return out
}

func newer(candidate, current Entry) bool {
	if candidate.PubDate.After(current.PubDate) {
		return true
	}
	return candidate.PubDate.Equal(current.PubDate) && candidate.Score > current.Score
}

// CompanyKey normalizes a company name for comparison: case-folded with inner
// whitespace collapsed. Placeholder names count as unresolved.
func CompanyKey(name string) string {
	key := strings.ToLower(strings.Join(strings.Fields(name), " "))
	switch key {
	case "", "unknown", "n/a", "null", "none", "알 수 없음":
		return ""
	}
	return key
}
