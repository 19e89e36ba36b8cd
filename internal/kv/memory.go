package kv

import (
	"context"
	"sort"
	"sync"
	"time"

	"horse.fit/leadscan/internal/globaltime"
)

type memoryString struct {
	value     string
	expiresAt time.Time
}

// Memory is a process-local Store used by tests and the "memory" backend.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	strings map[string]memoryString
	zsets   map[string]map[string]float64
	lists   map[string][]string
}

func NewMemory() *Memory {
	return &Memory{
		now:     globaltime.Now,
		strings: make(map[string]memoryString),
		zsets:   make(map[string]map[string]float64),
		lists:   make(map[string][]string),
	}
}

// WithClock replaces the clock used for TTL checks.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now != nil {
		m.now = now
	}
	return m
}

func (m *Memory) liveString(key string) (memoryString, bool) {
	entry, ok := m.strings[key]
	if !ok {
		return memoryString{}, false
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.strings, key)
		return memoryString{}, false
	}
	return entry, true
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.liveString(key)
	if !ok {
		return "", ErrNil
	}
	return entry.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = memoryString{value: value, expiresAt: m.expiry(ttl)}
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.liveString(key); ok {
		return false, nil
	}
	m.strings[key] = memoryString{value: value, expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := m.liveString(key); ok {
			delete(m.strings, key)
			removed++
			continue
		}
		if _, ok := m.zsets[key]; ok {
			delete(m.zsets, key)
			removed++
			continue
		}
		if _, ok := m.lists[key]; ok {
			delete(m.lists, key)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.liveString(key); ok {
		return true, nil
	}
	if set, ok := m.zsets[key]; ok && len(set) > 0 {
		return true, nil
	}
	if list, ok := m.lists[key]; ok && len(list) > 0 {
		return true, nil
	}
	return false, nil
}

func (m *Memory) ZAdd(_ context.Context, key string, members ...Z) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.zsets[key]
	if !ok {
		set = make(map[string]float64, len(members))
		m.zsets[key] = set
	}
	for _, z := range members {
		set[z.Member] = z.Score
	}
	return nil
}

func (m *Memory) ZRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.zsets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(set, member)
	}
	if len(set) == 0 {
		delete(m.zsets, key)
	}
	return nil
}

func (m *Memory) ZScore(_ context.Context, key, member string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	score, ok := m.zsets[key][member]
	if !ok {
		return 0, ErrNil
	}
	return score, nil
}

func (m *Memory) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zsets[key])), nil
}

// sorted returns members ordered by score ascending, then member ascending,
// matching Redis ordering for equal scores.
func (m *Memory) sorted(key string) []Z {
	set := m.zsets[key]
	out := make([]Z, 0, len(set))
	for member, score := range set {
		out = append(out, Z{Score: score, Member: member})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

func (m *Memory) ZRevRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	asc := m.sorted(key)
	n := int64(len(asc))
	from, to := NormalizeRange(start, stop, n)
	out := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, asc[n-1-i].Member)
	}
	return out, nil
}

func (m *Memory) ZRangeByScore(_ context.Context, key string, min, max float64) ([]Z, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Z
	for _, z := range m.sorted(key) {
		if z.Score >= min && z.Score <= max {
			out = append(out, z)
		}
	}
	return out, nil
}

func (m *Memory) ZRemRangeByScore(_ context.Context, key string, min, max float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.zsets[key]
	var removed int64
	for member, score := range set {
		if score >= min && score <= max {
			delete(set, member)
			removed++
		}
	}
	if set != nil && len(set) == 0 {
		delete(m.zsets, key)
	}
	return removed, nil
}

func (m *Memory) LPush(_ context.Context, key string, values ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	for _, v := range values {
		list = append([]string{v}, list...)
	}
	m.lists[key] = list
	return int64(len(list)), nil
}

func (m *Memory) RPush(_ context.Context, key string, values ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], values...)
	return int64(len(m.lists[key])), nil
}

func (m *Memory) LPop(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if len(list) == 0 {
		return "", ErrNil
	}
	head := list[0]
	if len(list) == 1 {
		delete(m.lists, key)
	} else {
		m.lists[key] = list[1:]
	}
	return head, nil
}

func (m *Memory) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	from, to := NormalizeRange(start, stop, int64(len(list)))
	out := make([]string, to-from)
	copy(out, list[from:to])
	return out, nil
}

func (m *Memory) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	from, to := NormalizeRange(start, stop, int64(len(list)))
	if from == to {
		delete(m.lists, key)
		return nil
	}
	kept := make([]string, to-from)
	copy(kept, list[from:to])
	m.lists[key] = kept
	return nil
}

func (m *Memory) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
