package article

import (
	"testing"
	"time"
)

func TestCanonicalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"HTTPS://News.Example.COM:443/a//b/c/?utm_source=x&b=2&a=1#frag",
		"http://example.com:8080/path%20with%20space/?q=%ED%95%9C%EA%B8%80",
		"https://example.com",
		"https://example.com/",
		"https://example.com///deep////path///",
		"https://www.newswire.co.kr/newsRead.php?no=1012345&sourceType=rss&fbclid=abc",
	}

	for _, input := range inputs {
		once, err := Canonicalize(input)
		if err != nil {
			t.Fatalf("canonicalize %q: %v", input, err)
		}
		twice, err := Canonicalize(once)
		if err != nil {
			t.Fatalf("canonicalize canonical %q: %v", once, err)
		}
		if once != twice {
			t.Fatalf("not idempotent for %q: %q != %q", input, once, twice)
		}
	}
}

func TestCanonicalizeStripsTrackingNoise(t *testing.T) {
	t.Parallel()

	base := "https://www.newswire.co.kr/newsRead.php?no=1012345"
	variants := []string{
		"https://WWW.newswire.co.kr/newsRead.php?no=1012345",
		"https://www.newswire.co.kr/newsRead.php?utm_source=naver&no=1012345&utm_medium=rss",
		"https://www.newswire.co.kr:443/newsRead.php?no=1012345&fbclid=IwAR0&gclid=x#top",
		"https://www.newswire.co.kr/newsRead.php/?no=1012345&ref=feed",
	}

	want, err := Canonicalize(base)
	if err != nil {
		t.Fatalf("canonicalize base: %v", err)
	}
	for _, variant := range variants {
		got, err := Canonicalize(variant)
		if err != nil {
			t.Fatalf("canonicalize %q: %v", variant, err)
		}
		if got != want {
			t.Fatalf("expected %q, got %q for %q", want, got, variant)
		}
		if LeadID(got) != LeadID(want) {
			t.Fatalf("lead id mismatch for %q", variant)
		}
	}
}

func TestCanonicalizeRejectsUnusableLinks(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "   ", "/relative/path", "mailto:pr@example.com", "ftp://example.com/file", "://broken"} {
		if _, err := Canonicalize(input); err == nil {
			t.Fatalf("expected %q to be rejected", input)
		}
	}
}

func TestLeadIDIsStableHex(t *testing.T) {
	t.Parallel()

	id := LeadID("https://example.com/a")
	if len(id) != 40 {
		t.Fatalf("expected 40 hex chars, got %d (%s)", len(id), id)
	}
	if id != LeadID("https://example.com/a") {
		t.Fatalf("lead id must be deterministic")
	}
	if id == LeadID("https://example.com/b") {
		t.Fatalf("different links must not collide")
	}
}

func TestNormalizePrefersOriginalLinkAndDefaults(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	got, ok := Normalize(RawEntry{
		Title:        "<b>Acme</b> launches &amp; expands",
		Link:         "https://n.news.naver.com/mnews/article/001/0000001",
		OriginalLink: "https://press.example.com/acme?utm_campaign=x",
		SourceTag:    "naver",
		Keyword:      " 신제품 ",
	}, now)
	if !ok {
		t.Fatalf("expected entry to normalize")
	}
	if got.Link != "https://press.example.com/acme" {
		t.Fatalf("expected original link canonicalized, got %q", got.Link)
	}
	if got.Title != "Acme launches & expands" {
		t.Fatalf("expected stripped title, got %q", got.Title)
	}
	if got.ContentSnippet != "" {
		t.Fatalf("expected empty snippet default, got %q", got.ContentSnippet)
	}
	if !got.PubDate.Equal(now) {
		t.Fatalf("expected pubDate to fall back to now, got %s", got.PubDate)
	}
	if got.SourceTag != SourceNaver || got.MatchedKeyword != "신제품" {
		t.Fatalf("unexpected tag/keyword: %q %q", got.SourceTag, got.MatchedKeyword)
	}

	if _, ok := Normalize(RawEntry{Title: "no link"}, now); ok {
		t.Fatalf("expected entry without link to be dropped")
	}
}

func TestNormalizeFallsBackToUpdated(t *testing.T) {
	t.Parallel()

	updated := time.Date(2026, 4, 1, 12, 0, 0, 0, time.FixedZone("KST", 9*3600))
	got, ok := Normalize(RawEntry{Link: "https://example.com/x", Updated: &updated}, time.Now())
	if !ok {
		t.Fatalf("expected entry to normalize")
	}
	if !got.PubDate.Equal(updated) || got.PubDate.Location() != time.UTC {
		t.Fatalf("expected updated time in UTC, got %s", got.PubDate)
	}
	if got.SourceTag != SourceRSS {
		t.Fatalf("expected default RSS tag, got %q", got.SourceTag)
	}
}
