// Package scoring turns an enrichment score into the final lead score.
package scoring

import (
	"math"
	"strings"
	"time"

	"horse.fit/leadscan/internal/article"
)

const (
	DefaultAIWeight = 0.6
	MinScore        = 0
	MaxScore        = 100
)

// Scorer combines the AI score with recency and source bonuses. The zero value
// uses DefaultAIWeight.
type Scorer struct {
	AIWeight float64
}

// RecencyBonus is +10 for articles younger than a day, +5 under three days,
// otherwise 0. Future dates count as brand new.
func RecencyBonus(pub, now time.Time) int {
	if pub.IsZero() {
		return 0
	}
	age := now.Sub(pub)
	switch {
	case age < 24*time.Hour:
		return 10
	case age < 72*time.Hour:
		return 5
	default:
		return 0
	}
}

// SourceBonus rewards structured search results over generic feeds.
func SourceBonus(sourceTag string) int {
	if strings.EqualFold(strings.TrimSpace(sourceTag), article.SourceNaver) {
		return 5
	}
	return 0
}

func (s Scorer) weight() float64 {
	if s.AIWeight <= 0 {
		return DefaultAIWeight
	}
	return s.AIWeight
}

// Final returns clamp(round(ai*weight + recency + source), 0, 100).
func (s Scorer) Final(aiScore int, pub time.Time, sourceTag string, now time.Time) int {
	total := float64(aiScore)*s.weight() + float64(RecencyBonus(pub, now)) + float64(SourceBonus(sourceTag))
	return Clamp(int(math.Round(total)))
}

func Clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Passes reports whether a final score clears the persistence threshold.
func Passes(finalScore, minScore int) bool {
	return finalScore >= minScore
}
