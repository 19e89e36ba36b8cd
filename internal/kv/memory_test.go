package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetNXRespectsTTL(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "pending:a", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetNX(ctx, "pending:a", "2", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "second SETNX must not overwrite a live key")

	now = now.Add(2 * time.Hour)
	ok, err = store.SetNX(ctx, "pending:a", "3", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "expired key should be claimable again")

	value, err := store.Get(ctx, "pending:a")
	require.NoError(t, err)
	assert.Equal(t, "3", value)
}

func TestMemoryGetMissingReturnsErrNil(t *testing.T) {
	t.Parallel()

	_, err := NewMemory().Get(context.Background(), "missing")
	assert.True(t, IsNil(err))
}

func TestMemorySortedSetOrdering(t *testing.T) {
	t.Parallel()

	store := NewMemory()
	ctx := context.Background()

	require.NoError(t, store.ZAdd(ctx, "idx", Z{Score: 10, Member: "a"}, Z{Score: 30, Member: "c"}, Z{Score: 20, Member: "b"}))

	all, err := store.ZRevRange(ctx, "idx", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, all)

	top, err := store.ZRevRange(ctx, "idx", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, top)

	require.NoError(t, store.ZAdd(ctx, "idx", Z{Score: 40, Member: "a"}))
	all, err = store.ZRevRange(ctx, "idx", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, all)

	removed, err := store.ZRemRangeByScore(ctx, "idx", NegInf, 25)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	card, err := store.ZCard(ctx, "idx")
	require.NoError(t, err)
	assert.EqualValues(t, 2, card)
}

func TestMemoryListFIFO(t *testing.T) {
	t.Parallel()

	store := NewMemory()
	ctx := context.Background()

	_, err := store.RPush(ctx, "q", "one", "two")
	require.NoError(t, err)
	_, err = store.RPush(ctx, "q", "three")
	require.NoError(t, err)

	head, err := store.LPop(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, "one", head)

	n, err := store.LLen(ctx, "q")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = store.LPush(ctx, "notes", "a", "b", "c")
	require.NoError(t, err)
	require.NoError(t, store.LTrim(ctx, "notes", 0, 1))
	items, err := store.LRange(ctx, "notes", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, items)

	_, err = store.LPop(ctx, "empty")
	assert.True(t, IsNil(err))
}
