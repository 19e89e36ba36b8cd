// Package queue is the durable FIFO of articles awaiting enrichment. It lives
// entirely in the shared kv.Store so any invocation can continue where the
// previous one stopped.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"horse.fit/leadscan/internal/globaltime"
	"horse.fit/leadscan/internal/kv"
)

const (
	DefaultKey           = "scan:cron:queue"
	DefaultPendingPrefix = "scan:cron:pending:"
	DefaultDeadKey       = "scan:cron:dead"
	DefaultPendingTTL    = 24 * time.Hour
	DefaultMaxAttempts   = 5
	DefaultDeadCap       = 500
)

// ErrEmpty is returned by Pop when nothing is queued.
var ErrEmpty = errors.New("queue is empty")

type Options struct {
	Key string
	// PendingPrefix enables per-lead "already queued" markers. Empty disables
	// them (used by short-lived scan lists).
	PendingPrefix string
	PendingTTL    time.Duration
	// MaxAttempts is the number of failed processing attempts after which an
	// item moves to the dead-letter list. Zero means retry forever.
	MaxAttempts int
	DeadKey     string
	DeadCap     int64
}

type Queue struct {
	store kv.Store
	opts  Options
}

func New(store kv.Store, opts Options) *Queue {
	if strings.TrimSpace(opts.Key) == "" {
		opts.Key = DefaultKey
	}
	if opts.PendingPrefix != "" && opts.PendingTTL <= 0 {
		opts.PendingTTL = DefaultPendingTTL
	}
	if opts.DeadCap <= 0 {
		opts.DeadCap = DefaultDeadCap
	}
	return &Queue{store: store, opts: opts}
}

// NewCron returns the cross-invocation work queue with its standard key layout.
func NewCron(store kv.Store, pendingTTL time.Duration, maxAttempts int) *Queue {
	return New(store, Options{
		Key:           DefaultKey,
		PendingPrefix: DefaultPendingPrefix,
		PendingTTL:    pendingTTL,
		MaxAttempts:   maxAttempts,
		DeadKey:       DefaultDeadKey,
	})
}

func (q *Queue) Key() string {
	return q.opts.Key
}

func (q *Queue) pendingKey(leadID string) string {
	return q.opts.PendingPrefix + leadID
}

// Enqueue appends the item unless a pending marker for the same lead already
// exists. It reports whether the item was added.
func (q *Queue) Enqueue(ctx context.Context, it Item) (bool, error) {
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = globaltime.UTC()
	}
	payload, err := Encode(it)
	if err != nil {
		return false, err
	}

	if q.opts.PendingPrefix != "" {
		claimed, err := q.store.SetNX(ctx, q.pendingKey(it.LeadID()), "1", q.opts.PendingTTL)
		if err != nil {
			return false, fmt.Errorf("claim pending marker: %w", err)
		}
		if !claimed {
			return false, nil
		}
	}

	if _, err := q.store.RPush(ctx, q.opts.Key, payload); err != nil {
		return false, fmt.Errorf("push queue item: %w", err)
	}
	return true, nil
}

// Pop removes the head item. A payload that cannot be decoded is consumed and
// reported with ErrCorruptItem.
func (q *Queue) Pop(ctx context.Context) (Item, error) {
	raw, err := q.store.LPop(ctx, q.opts.Key)
	if err != nil {
		if kv.IsNil(err) {
			return Item{}, ErrEmpty
		}
		return Item{}, fmt.Errorf("pop queue item: %w", err)
	}
	return Decode(raw)
}

// PushBack returns an unprocessed item to the tail without charging an attempt.
func (q *Queue) PushBack(ctx context.Context, it Item) error {
	payload, err := Encode(it)
	if err != nil {
		return err
	}
	if _, err := q.store.RPush(ctx, q.opts.Key, payload); err != nil {
		return fmt.Errorf("push back queue item: %w", err)
	}
	return nil
}

// Requeue records a failed attempt. Below the attempt cap the item goes back to
// the tail; at the cap it moves to the dead-letter list and its pending marker
// is released. It reports whether the item was dead-lettered.
func (q *Queue) Requeue(ctx context.Context, it Item, cause error) (bool, error) {
	it.Attempts++
	if cause != nil {
		it.LastError = cause.Error()
	}

	if q.opts.MaxAttempts > 0 && it.Attempts >= q.opts.MaxAttempts && q.opts.DeadKey != "" {
		payload, err := Encode(it)
		if err != nil {
			return false, err
		}
		if _, err := q.store.LPush(ctx, q.opts.DeadKey, payload); err != nil {
			return false, fmt.Errorf("push dead letter: %w", err)
		}
		if err := q.store.LTrim(ctx, q.opts.DeadKey, 0, q.opts.DeadCap-1); err != nil {
			return true, fmt.Errorf("trim dead letters: %w", err)
		}
		return true, q.Release(ctx, it.LeadID())
	}

	return false, q.PushBack(ctx, it)
}

// Release drops the pending marker so the lead can be enqueued again.
func (q *Queue) Release(ctx context.Context, leadID string) error {
	if q.opts.PendingPrefix == "" {
		return nil
	}
	if _, err := q.store.Del(ctx, q.pendingKey(leadID)); err != nil {
		return fmt.Errorf("release pending marker: %w", err)
	}
	return nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.store.LLen(ctx, q.opts.Key)
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

func (q *Queue) DeadLetters(ctx context.Context) (int64, error) {
	if q.opts.DeadKey == "" {
		return 0, nil
	}
	n, err := q.store.LLen(ctx, q.opts.DeadKey)
	if err != nil {
		return 0, fmt.Errorf("dead letter length: %w", err)
	}
	return n, nil
}

// Drop deletes the whole list.
func (q *Queue) Drop(ctx context.Context) error {
	if _, err := q.store.Del(ctx, q.opts.Key); err != nil {
		return fmt.Errorf("drop queue: %w", err)
	}
	return nil
}
