package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horse.fit/leadscan/internal/article"
	"horse.fit/leadscan/internal/kv"
	"horse.fit/leadscan/internal/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fillQueue(t *testing.T, q *queue.Queue, n int) {
	t.Helper()
	for i := range n {
		_, err := q.Enqueue(context.Background(), queue.Item{
			Article:     article.Article{Title: fmt.Sprintf("item %d", i), Link: fmt.Sprintf("https://example.com/%d", i)},
			SourceLabel: "test",
		})
		require.NoError(t, err)
	}
}

func TestDrainRespectsBudget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := queue.New(kv.NewMemory(), queue.Options{Key: "q"})
	fillQueue(t, q, 10)

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	const perItem = 300 * time.Millisecond
	budget := time.Second

	res, err := Drain(ctx, q, Options{Budget: budget, Concurrency: 1, Now: clock.Now}, func(_ context.Context, it queue.Item) (string, error) {
		clock.Advance(perItem)
		return it.Article.Link, nil
	})
	require.NoError(t, err)

	assert.True(t, res.BudgetExhausted)
	assert.Equal(t, 4, res.Processed)
	assert.LessOrEqual(t, time.Duration(res.Processed)*perItem, budget+perItem)

	left, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 10-res.Processed, left)

	next, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/4", next.Article.Link)
}

func TestDrainStopsBeforePopOnceBudgetSpent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := queue.New(kv.NewMemory(), queue.Options{Key: "q"})
	fillQueue(t, q, 2)

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	started := clock.Now()
	clock.Advance(2 * time.Second)
	res, err := Drain(ctx, q, Options{Budget: time.Second, Started: started, Now: clock.Now}, func(context.Context, queue.Item) (string, error) {
		t.Errorf("process must not run once the budget is spent")
		return "", nil
	})
	require.NoError(t, err)
	assert.True(t, res.BudgetExhausted)
	assert.Zero(t, res.Attempted())

	left, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, left)
}

func TestDrainPushesBackItemsThatMissTheSecondCheckpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := queue.New(kv.NewMemory(), queue.Options{Key: "q"})
	fillQueue(t, q, 2)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	reads := 0
	// The two pop checkpoints see a fresh budget; the worker checkpoints see it spent.
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		reads++
		if reads <= 2 {
			return base
		}
		return base.Add(5 * time.Second)
	}

	res, err := Drain(ctx, q, Options{Budget: time.Second, Concurrency: 2, Started: base, Now: now}, func(context.Context, queue.Item) (string, error) {
		t.Errorf("process must not run after the budget check fails")
		return "", nil
	})
	require.NoError(t, err)
	assert.True(t, res.BudgetExhausted)
	assert.Equal(t, 2, res.Requeued)
	assert.Zero(t, res.Attempted())

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/0", first.Article.Link)
	assert.Zero(t, first.Attempts, "budget push-back does not charge an attempt")
}

func TestDrainRequeuesFailuresAndDropsCorruptItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kv.NewMemory()
	q := queue.New(store, queue.Options{Key: "q", MaxAttempts: 5, DeadKey: "dead"})
	fillQueue(t, q, 4)
	_, err := store.RPush(ctx, "q", "garbage")
	require.NoError(t, err)

	res, err := Drain(ctx, q, Options{Concurrency: 3, Limit: 10}, func(_ context.Context, it queue.Item) (string, error) {
		if it.Article.Link == "https://example.com/1" || it.Attempts > 0 {
			return "", errors.New("provider unavailable")
		}
		return it.Article.Link, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 3, res.Processed)
	assert.ElementsMatch(t, []string{"https://example.com/0", "https://example.com/2", "https://example.com/3"}, res.Outputs)
	// The failed item is retried once within the drain, then left for the next run.
	assert.Equal(t, 2, res.Failed)

	left, err := q.Len(ctx)
	require.NoError(t, err)
	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, left+dead, "failed item is never lost")
}

func TestDrainPushesBackCancelledCallsWithoutChargingAttempts(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := queue.New(kv.NewMemory(), queue.Options{Key: "q", MaxAttempts: 1, DeadKey: "dead"})
	fillQueue(t, q, 1)

	res, err := Drain(ctx, q, Options{Concurrency: 1}, func(ctx context.Context, _ queue.Item) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	require.NoError(t, err)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.DeadLettered)
	assert.Equal(t, 1, res.Requeued)
	assert.True(t, res.BudgetExhausted)

	dead, err := q.DeadLetters(context.Background())
	require.NoError(t, err)
	assert.Zero(t, dead)
	it, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Zero(t, it.Attempts)
}

func TestDrainHonorsLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := queue.New(kv.NewMemory(), queue.Options{Key: "q"})
	fillQueue(t, q, 5)

	res, err := Drain(ctx, q, Options{Concurrency: 3, Limit: 2}, func(_ context.Context, it queue.Item) (int, error) {
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.True(t, res.LimitReached)

	left, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, left)
}

func TestDrainBoundsConcurrency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := queue.New(kv.NewMemory(), queue.Options{Key: "q"})
	fillQueue(t, q, 9)

	var mu sync.Mutex
	inFlight, peak := 0, 0
	res, err := Drain(ctx, q, Options{Concurrency: 3}, func(context.Context, queue.Item) (int, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 9, res.Processed)
	assert.LessOrEqual(t, peak, 3)
}
