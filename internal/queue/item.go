package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"horse.fit/leadscan/internal/article"
)

// ErrCorruptItem marks a persisted payload that cannot be decoded. Such items
// are dropped rather than retried.
var ErrCorruptItem = errors.New("corrupt queue item")

// Item is one not-yet-enriched article waiting in a queue.
type Item struct {
	Article     article.Article `json:"article"`
	SourceLabel string          `json:"sourceLabel"`
	Attempts    int             `json:"attempts,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	LastError   string          `json:"lastError,omitempty"`
}

func (it Item) LeadID() string {
	return it.Article.LeadID()
}

func Encode(it Item) (string, error) {
	if strings.TrimSpace(it.Article.Link) == "" {
		return "", fmt.Errorf("encode queue item: article link is required")
	}
	payload, err := json.Marshal(it)
	if err != nil {
		return "", fmt.Errorf("encode queue item: %w", err)
	}
	return string(payload), nil
}

// Decode parses a persisted payload. Anything that is not a JSON object with a
// non-empty article link is reported as ErrCorruptItem.
func Decode(raw string) (Item, error) {
	var it Item
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		return Item{}, fmt.Errorf("%w: %v", ErrCorruptItem, err)
	}
	if strings.TrimSpace(it.Article.Link) == "" {
		return Item{}, fmt.Errorf("%w: missing article link", ErrCorruptItem)
	}
	return it, nil
}
