// Package blocklist tracks companies whose articles are skipped before
// enrichment. Temporary blocks live in a sorted set scored by expiry and are
// swept lazily at the start of each run.
package blocklist

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"horse.fit/leadscan/internal/article"
	"horse.fit/leadscan/internal/dedup"
	"horse.fit/leadscan/internal/kv"
)

const (
	Key = "scan:blocked:companies"

	// ExcludedTTL is how long marking a lead EXCLUDED blocks its company.
	ExcludedTTL = 7 * 24 * time.Hour
)

type Store struct {
	kv  kv.Store
	now func() time.Time
}

func NewStore(store kv.Store, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{kv: store, now: now}
}

// Sweep removes entries whose expiry has passed and reports how many went.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	removed, err := s.kv.ZRemRangeByScore(ctx, Key, kv.NegInf, float64(s.now().UnixMilli()))
	if err != nil {
		return 0, fmt.Errorf("sweep blocked companies: %w", err)
	}
	return removed, nil
}

// Block adds a company. ttl <= 0 blocks it permanently. An existing block
// that lasts longer is kept.
func (s *Store) Block(ctx context.Context, company string, ttl time.Duration) error {
	name := strings.TrimSpace(company)
	if name == "" {
		return nil
	}
	score := kv.PosInf
	if ttl > 0 {
		score = float64(s.now().Add(ttl).UnixMilli())
	}
	current, err := s.kv.ZScore(ctx, Key, name)
	switch {
	case err == nil && current >= score:
		return nil
	case err != nil && !kv.IsNil(err):
		return fmt.Errorf("read block of %q: %w", name, err)
	}
	if err := s.kv.ZAdd(ctx, Key, kv.Z{Score: score, Member: name}); err != nil {
		return fmt.Errorf("block company %q: %w", name, err)
	}
	return nil
}

func (s *Store) Unblock(ctx context.Context, company string) error {
	if err := s.kv.ZRem(ctx, Key, strings.TrimSpace(company)); err != nil {
		return fmt.Errorf("unblock company: %w", err)
	}
	return nil
}

// Entry is one blocked company. ExpiresAt is zero for permanent blocks.
type Entry struct {
	Company   string    `json:"company"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Active lists entries that have not expired yet.
func (s *Store) Active(ctx context.Context) ([]Entry, error) {
	members, err := s.kv.ZRangeByScore(ctx, Key, float64(s.now().UnixMilli())+1, kv.PosInf)
	if err != nil {
		return nil, fmt.Errorf("list blocked companies: %w", err)
	}
	out := make([]Entry, 0, len(members))
	for _, m := range members {
		e := Entry{Company: m.Member}
		if !math.IsInf(m.Score, 1) {
			e.ExpiresAt = time.UnixMilli(int64(m.Score)).UTC()
		}
		out = append(out, e)
	}
	return out, nil
}

// KeySet is the merged, case-insensitive set of blocked company keys.
type KeySet struct {
	keys map[string]struct{}
}

func NewKeySet(names ...[]string) KeySet {
	set := KeySet{keys: make(map[string]struct{})}
	for _, group := range names {
		for _, name := range group {
			set.Add(name)
		}
	}
	return set
}

func (k KeySet) Add(name string) {
	if key := dedup.CompanyKey(name); key != "" {
		k.keys[key] = struct{}{}
	}
}

func (k KeySet) Len() int {
	return len(k.keys)
}

// Keys returns the set contents in no particular order.
func (k KeySet) Keys() []string {
	out := make([]string, 0, len(k.keys))
	for key := range k.keys {
		out = append(out, key)
	}
	return out
}

// BlocksCompany is an exact match on the normalized company name.
func (k KeySet) BlocksCompany(name string) bool {
	key := dedup.CompanyKey(name)
	if key == "" {
		return false
	}
	_, ok := k.keys[key]
	return ok
}

// Blocks reports whether the article title or snippet mentions any blocked
// company, case-insensitively.
func (k KeySet) Blocks(a article.Article) bool {
	if len(k.keys) == 0 {
		return false
	}
	haystack := strings.ToLower(a.Title + "\n" + a.ContentSnippet)
	for key := range k.keys {
		if strings.Contains(haystack, key) {
			return true
		}
	}
	return false
}

// Load sweeps expired entries and returns the effective key set: the given
// permanent and temporary names plus every active entry in the store.
func (s *Store) Load(ctx context.Context, permanent, temporary []string) (KeySet, error) {
	if _, err := s.Sweep(ctx); err != nil {
		return KeySet{}, err
	}
	active, err := s.Active(ctx)
	if err != nil {
		return KeySet{}, err
	}
	set := NewKeySet(permanent, temporary)
	for _, e := range active {
		set.Add(e.Company)
	}
	return set, nil
}
