// Package settings holds the operator-editable scan configuration: search
// credentials, keywords, feeds, thresholds and excluded companies. It is a
// single JSON document in the shared store.
package settings

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"horse.fit/leadscan/internal/kv"
)

const (
	Key = "config:sales:settings"

	MaskedSecret = "********"
	MaxKeywords  = 20

	DefaultCronMinScore   = 50
	DefaultScanMinScore   = 60
	DefaultNotifyMinScore = 70
)

type Feed struct {
	Category    string `json:"category" yaml:"category"`
	URL         string `json:"url" yaml:"url"`
	Title       string `json:"title,omitempty" yaml:"title"`
	OriginalURL string `json:"originalUrl,omitempty" yaml:"original_url"`
	Enabled     *bool  `json:"enabled,omitempty" yaml:"enabled"`
}

// IsEnabled treats a missing flag as enabled.
func (f Feed) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

type TemporaryExclusion struct {
	Name string `json:"name"`
	// ExpiresAt is a unix timestamp in milliseconds.
	ExpiresAt int64 `json:"expiresAt"`
}

type Settings struct {
	NaverClientID              string               `json:"naverClientId"`
	NaverClientSecret          string               `json:"naverClientSecret"`
	NaverEnabled               *bool                `json:"naverEnabled,omitempty"`
	Keywords                   []string             `json:"keywords"`
	RSSFeeds                   []Feed               `json:"rssFeeds"`
	MinScore                   *int                 `json:"minScore,omitempty"`
	LeadNotificationsEnabled   *bool                `json:"leadNotificationsEnabled,omitempty"`
	MinLeadScoreForNotify      *int                 `json:"minLeadScoreForNotify,omitempty"`
	ExcludedCompanies          []string             `json:"excludedCompanies"`
	ExcludedCompaniesTemporary []TemporaryExclusion `json:"excludedCompaniesTemporary"`
}

// SearchEnabled reports whether the keyword search source can run.
func (s Settings) SearchEnabled() bool {
	if s.NaverEnabled != nil && !*s.NaverEnabled {
		return false
	}
	return strings.TrimSpace(s.NaverClientID) != "" &&
		strings.TrimSpace(s.NaverClientSecret) != "" &&
		len(s.Keywords) > 0
}

// CronMinScore returns the stored persistence threshold or the cron default.
func (s Settings) CronMinScore() int {
	if s.MinScore != nil {
		return *s.MinScore
	}
	return DefaultCronMinScore
}

func (s Settings) NotificationsEnabled() bool {
	return s.LeadNotificationsEnabled == nil || *s.LeadNotificationsEnabled
}

func (s Settings) NotifyMinScore() int {
	if s.MinLeadScoreForNotify != nil {
		return *s.MinLeadScoreForNotify
	}
	return DefaultNotifyMinScore
}

// ActiveFeeds returns enabled feeds in configured order.
func (s Settings) ActiveFeeds() []Feed {
	out := make([]Feed, 0, len(s.RSSFeeds))
	for _, f := range s.RSSFeeds {
		if f.IsEnabled() && strings.TrimSpace(f.URL) != "" {
			out = append(out, f)
		}
	}
	return out
}

// ActiveTemporaryExclusions drops entries that expired before now.
func (s Settings) ActiveTemporaryExclusions(now time.Time) []string {
	nowMs := now.UnixMilli()
	out := make([]string, 0, len(s.ExcludedCompaniesTemporary))
	for _, item := range s.ExcludedCompaniesTemporary {
		if item.ExpiresAt <= nowMs || strings.TrimSpace(item.Name) == "" {
			continue
		}
		out = append(out, item.Name)
	}
	return out
}

// Masked returns a copy safe to send to clients. An unset secret stays empty
// so clients can tell it apart from a stored one.
func (s Settings) Masked() Settings {
	out := s
	if strings.TrimSpace(out.NaverClientSecret) != "" {
		out.NaverClientSecret = MaskedSecret
	} else {
		out.NaverClientSecret = ""
	}
	if out.Keywords == nil {
		out.Keywords = []string{}
	}
	if out.RSSFeeds == nil {
		out.RSSFeeds = []Feed{}
	}
	if out.ExcludedCompanies == nil {
		out.ExcludedCompanies = []string{}
	}
	if out.ExcludedCompaniesTemporary == nil {
		out.ExcludedCompaniesTemporary = []TemporaryExclusion{}
	}
	return out
}

// IsMasked reports whether v is empty or the mask placeholder, i.e. carries no
// new secret.
func IsMasked(v string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == MaskedSecret
}

//go:embed default_feeds.yaml
var defaultFeedsYAML []byte

type feedCatalog struct {
	Feeds []Feed `yaml:"feeds"`
}

// DefaultFeeds returns the embedded press-release feed catalog.
func DefaultFeeds() ([]Feed, error) {
	var catalog feedCatalog
	if err := yaml.Unmarshal(defaultFeedsYAML, &catalog); err != nil {
		return nil, fmt.Errorf("parse default feeds: %w", err)
	}
	return normalizeFeeds(catalog.Feeds), nil
}

// Store loads and saves the settings document.
type Store struct {
	kv kv.Store
}

func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

// Load returns the stored settings, falling back to the default feed catalog
// when no feeds are configured.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	var out Settings
	raw, err := s.kv.Get(ctx, Key)
	switch {
	case kv.IsNil(err):
	case err != nil:
		return Settings{}, fmt.Errorf("load settings: %w", err)
	default:
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return Settings{}, fmt.Errorf("decode settings: %w", err)
		}
	}

	if len(out.RSSFeeds) == 0 {
		feeds, err := DefaultFeeds()
		if err != nil {
			return Settings{}, err
		}
		out.RSSFeeds = feeds
	}
	return out, nil
}

func (s *Store) Save(ctx context.Context, settings Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.kv.Set(ctx, Key, string(payload), 0); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Apply merges an update into the stored settings, prunes expired temporary
// exclusions, saves and returns the result.
func (s *Store) Apply(ctx context.Context, update Update, now time.Time) (Settings, error) {
	current, err := s.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	merged := Merge(current, update, now)
	if err := s.Save(ctx, merged); err != nil {
		return Settings{}, err
	}
	return merged, nil
}
