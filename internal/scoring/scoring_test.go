package scoring

import (
	"testing"
	"time"

	"horse.fit/leadscan/internal/article"
)

var now = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

func TestRecencyBonusSteps(t *testing.T) {
	t.Parallel()

	cases := []struct {
		age  time.Duration
		want int
	}{
		{-time.Hour, 10},
		{0, 10},
		{23 * time.Hour, 10},
		{24 * time.Hour, 5},
		{71 * time.Hour, 5},
		{72 * time.Hour, 0},
		{30 * 24 * time.Hour, 0},
	}
	for _, tc := range cases {
		if got := RecencyBonus(now.Add(-tc.age), now); got != tc.want {
			t.Fatalf("RecencyBonus(age=%s) = %d, want %d", tc.age, got, tc.want)
		}
	}
	if got := RecencyBonus(time.Time{}, now); got != 0 {
		t.Fatalf("zero publish date should earn no bonus, got %d", got)
	}
}

func TestSourceBonus(t *testing.T) {
	t.Parallel()

	if SourceBonus(article.SourceNaver) != 5 || SourceBonus("naver") != 5 {
		t.Fatalf("expected search source bonus")
	}
	if SourceBonus(article.SourceRSS) != 0 {
		t.Fatalf("expected no bonus for feeds")
	}
}

func TestFinalIsMonotonicAndClamped(t *testing.T) {
	t.Parallel()

	fresh := now.Add(-time.Hour)
	for _, scorer := range []Scorer{{}, {AIWeight: 1}, {AIWeight: 1.5}} {
		prev := -1
		for ai := -20; ai <= 150; ai++ {
			got := scorer.Final(ai, fresh, article.SourceNaver, now)
			if got < MinScore || got > MaxScore {
				t.Fatalf("score %d out of range for ai=%d", got, ai)
			}
			if got < prev {
				t.Fatalf("score decreased from %d to %d at ai=%d", prev, got, ai)
			}
			prev = got
		}
	}
}

func TestFinalMatchesWeightedFormula(t *testing.T) {
	t.Parallel()

	var s Scorer
	if got := s.Final(80, now.Add(-2*time.Hour), article.SourceNaver, now); got != 63 {
		t.Fatalf("expected 48+10+5=63, got %d", got)
	}
	if got := s.Final(75, now.Add(-48*time.Hour), article.SourceRSS, now); got != 50 {
		t.Fatalf("expected round(45+5)=50, got %d", got)
	}
}

func TestThresholdBoundary(t *testing.T) {
	t.Parallel()

	if Passes(59, 60) {
		t.Fatalf("59 must not pass a 60 threshold")
	}
	if !Passes(60, 60) {
		t.Fatalf("60 must pass a 60 threshold")
	}
}
