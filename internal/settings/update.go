package settings

import (
	"fmt"
	"strings"
	"time"

	payloadschema "horse.fit/leadscan/internal/schema"
)

// Update is a partial settings change. Nil fields keep the stored value.
type Update struct {
	NaverClientID              *string              `json:"naverClientId"`
	NaverClientSecret          *string              `json:"naverClientSecret"`
	NaverEnabled               *bool                `json:"naverEnabled"`
	Keywords                   []string             `json:"keywords"`
	RSSFeeds                   []Feed               `json:"rssFeeds"`
	MinScore                   *int                 `json:"minScore"`
	LeadNotificationsEnabled   *bool                `json:"leadNotificationsEnabled"`
	MinLeadScoreForNotify      *int                 `json:"minLeadScoreForNotify"`
	ExcludedCompanies          []string             `json:"excludedCompanies"`
	ExcludedCompaniesTemporary []TemporaryExclusion `json:"excludedCompaniesTemporary"`
}

// ParseUpdate validates a raw request body against the settings schema.
func ParseUpdate(body []byte) (Update, error) {
	var update Update
	if err := payloadschema.Validate(payloadschema.SettingsSchema, body, &update); err != nil {
		return Update{}, fmt.Errorf("invalid settings update: %w", err)
	}
	return update, nil
}

// Merge applies update on top of current. The secret is replaced only by a
// non-empty, non-masked value.
func Merge(current Settings, update Update, now time.Time) Settings {
	out := current

	if update.NaverClientID != nil {
		out.NaverClientID = strings.TrimSpace(*update.NaverClientID)
	}
	if update.NaverClientSecret != nil && !IsMasked(*update.NaverClientSecret) {
		out.NaverClientSecret = strings.TrimSpace(*update.NaverClientSecret)
	}
	if update.NaverEnabled != nil {
		enabled := *update.NaverEnabled
		out.NaverEnabled = &enabled
	}
	if update.Keywords != nil {
		out.Keywords = normalizeKeywords(update.Keywords)
	}
	if update.RSSFeeds != nil {
		out.RSSFeeds = normalizeFeeds(update.RSSFeeds)
	}
	if update.MinScore != nil {
		v := clampScore(*update.MinScore)
		out.MinScore = &v
	}
	if update.LeadNotificationsEnabled != nil {
		enabled := *update.LeadNotificationsEnabled
		out.LeadNotificationsEnabled = &enabled
	}
	if update.MinLeadScoreForNotify != nil {
		v := clampScore(*update.MinLeadScoreForNotify)
		out.MinLeadScoreForNotify = &v
	}
	if update.ExcludedCompanies != nil {
		out.ExcludedCompanies = normalizeNames(update.ExcludedCompanies)
	}
	if update.ExcludedCompaniesTemporary != nil {
		out.ExcludedCompaniesTemporary = update.ExcludedCompaniesTemporary
	}
	out.ExcludedCompaniesTemporary = pruneTemporary(out.ExcludedCompaniesTemporary, now)

	return out
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		trimmed := strings.TrimSpace(k)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
		if len(out) == MaxKeywords {
			break
		}
	}
	return out
}

func normalizeNames(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, name := range in {
		trimmed := strings.TrimSpace(name)
		key := strings.ToLower(trimmed)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func normalizeFeeds(in []Feed) []Feed {
	seen := make(map[string]struct{}, len(in))
	out := make([]Feed, 0, len(in))
	for _, f := range in {
		f.URL = strings.TrimSpace(f.URL)
		if f.URL == "" {
			continue
		}
		if _, ok := seen[f.URL]; ok {
			continue
		}
		seen[f.URL] = struct{}{}
		f.Category = strings.TrimSpace(f.Category)
		f.Title = strings.TrimSpace(f.Title)
		f.OriginalURL = strings.TrimSpace(f.OriginalURL)
		if f.OriginalURL == "" {
			f.OriginalURL = f.URL
		}
		if f.Enabled == nil {
			enabled := true
			f.Enabled = &enabled
		}
		out = append(out, f)
	}
	return out
}

func pruneTemporary(in []TemporaryExclusion, now time.Time) []TemporaryExclusion {
	nowMs := now.UnixMilli()
	out := make([]TemporaryExclusion, 0, len(in))
	for _, item := range in {
		item.Name = strings.TrimSpace(item.Name)
		if item.Name == "" || item.ExpiresAt <= nowMs {
			continue
		}
		out = append(out, item)
	}
	return out
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
