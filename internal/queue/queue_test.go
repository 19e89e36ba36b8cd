package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horse.fit/leadscan/internal/article"
	"horse.fit/leadscan/internal/kv"
)

func testItem(link string) Item {
	return Item{
		Article: article.Article{
			Title:     "Launch",
			Link:      link,
			PubDate:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			SourceTag: article.SourceRSS,
		},
		SourceLabel: "rss:press",
	}
}

func TestEnqueueSkipsPendingLead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewCron(kv.NewMemory(), time.Hour, 3)

	added, err := q.Enqueue(ctx, testItem("https://example.com/a"))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = q.Enqueue(ctx, testItem("https://example.com/a?utm_source=x"))
	require.NoError(t, err)
	assert.False(t, added, "same canonical link must not be queued twice")

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPendingMarkerExpires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := kv.NewMemory().WithClock(func() time.Time { return now })
	q := NewCron(store, time.Hour, 3)

	_, err := q.Enqueue(ctx, testItem("https://example.com/a"))
	require.NoError(t, err)
	_, err = q.Pop(ctx)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	added, err := q.Enqueue(ctx, testItem("https://example.com/a"))
	require.NoError(t, err)
	assert.True(t, added)
}

func TestPopIsFIFOAndReportsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewCron(kv.NewMemory(), time.Hour, 3)

	for _, link := range []string{"https://example.com/1", "https://example.com/2"} {
		_, err := q.Enqueue(ctx, testItem(link))
		require.NoError(t, err)
	}

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/1", first.Article.Link)
	assert.False(t, first.EnqueuedAt.IsZero())

	second, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/2", second.Article.Link)

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestPopReportsCorruptPayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kv.NewMemory()
	q := NewCron(store, time.Hour, 3)

	_, err := store.RPush(ctx, DefaultKey, "{not json", `{"article":{"title":"x"}}`)
	require.NoError(t, err)

	for range 2 {
		_, err = q.Pop(ctx)
		assert.True(t, errors.Is(err, ErrCorruptItem), "got %v", err)
	}
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "corrupt items are consumed, not requeued")
}

func TestRequeueDeadLettersAtCap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := NewCron(kv.NewMemory(), time.Hour, 2)
	it := testItem("https://example.com/fails")
	_, err := q.Enqueue(ctx, it)
	require.NoError(t, err)

	popped, err := q.Pop(ctx)
	require.NoError(t, err)
	dead, err := q.Requeue(ctx, popped, errors.New("provider down"))
	require.NoError(t, err)
	assert.False(t, dead)

	popped, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, popped.Attempts)
	assert.Equal(t, "provider down", popped.LastError)

	dead, err = q.Requeue(ctx, popped, errors.New("provider down"))
	require.NoError(t, err)
	assert.True(t, dead)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	deadCount, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deadCount)

	added, err := q.Enqueue(ctx, it)
	require.NoError(t, err)
	assert.True(t, added, "dead-lettered lead can be rediscovered")
}

func TestPushBackDoesNotChargeAttempt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := New(kv.NewMemory(), Options{Key: "sales:leads:scan:list:tok"})

	added, err := q.Enqueue(ctx, testItem("https://example.com/a"))
	require.NoError(t, err)
	assert.True(t, added)
	added, err = q.Enqueue(ctx, testItem("https://example.com/a"))
	require.NoError(t, err)
	assert.True(t, added, "lists without a pending prefix do not dedupe")

	popped, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NoError(t, q.PushBack(ctx, popped))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for range 2 {
		got, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Zero(t, got.Attempts)
	}
	require.NoError(t, q.Drop(ctx))
}
