package kv

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrNil is returned when a key or list element does not exist.
var ErrNil = errors.New("kv: nil")

// Z is a scored sorted-set member.
type Z struct {
	Score  float64
	Member string
}

// Store is the shared state every invocation coordinates through. It models the
// subset of Redis semantics the pipeline relies on: strings with optional TTL,
// sorted sets ordered by score, and lists used as FIFO queues.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)

	ZAdd(ctx context.Context, key string, members ...Z) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZScore(ctx context.Context, key, member string) (float64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	// ZRevRange returns members from highest to lowest score. stop=-1 means to the end.
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]Z, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)

	LPush(ctx context.Context, key string, values ...string) (int64, error)
	RPush(ctx context.Context, key string, values ...string) (int64, error)
	LPop(ctx context.Context, key string) (string, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LLen(ctx context.Context, key string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// IsNil reports whether err signals a missing key.
func IsNil(err error) bool {
	return errors.Is(err, ErrNil)
}

var (
	NegInf = math.Inf(-1)
	PosInf = math.Inf(1)
)

// NormalizeRange converts Redis-style inclusive indices (negative counts from
// the end) into a half-open [from, to) slice window for a sequence of length n.
func NormalizeRange(start, stop, n int64) (int64, int64) {
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0
	}
	return start, stop + 1
}
