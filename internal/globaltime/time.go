// Package globaltime is the process clock. Tests pin it with SetMockTime so
// recency scoring, TTL sweeps and time budgets are deterministic.
package globaltime

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
	mocked  bool
)

func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

func UTC() time.Time {
	return Now().UTC()
}

// UnixMilli is the score unit used by every ordered index.
func UnixMilli() int64 {
	return Now().UnixMilli()
}

func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = func() time.Time { return t }
	mocked = true
}

// Advance moves a mocked clock forward. It has no effect on the real clock.
func Advance(d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	if !mocked {
		return
	}
	moved := nowFunc().Add(d)
	nowFunc = func() time.Time { return moved }
}

func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = time.Now
	mocked = false
}
