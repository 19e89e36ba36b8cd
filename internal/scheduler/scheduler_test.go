package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"horse.fit/leadscan/internal/kv"
)

func TestStepVisitsSourcesRoundRobin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(kv.NewMemory(), nil)

	var visited []int
	for range 7 {
		_, err := s.Step(ctx, 3, false, func(_ context.Context, index int) error {
			visited = append(visited, index)
			return nil
		})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
	}

	want := []int{0, 1, 2, 0, 1, 2, 0}
	if len(visited) != len(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visited %v, want %v", visited, want)
		}
	}
}

func TestStepAdvancesWhenBusyOrFailing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(kv.NewMemory(), func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) })

	tick, err := s.Step(ctx, 3, true, func(context.Context, int) error {
		t.Fatalf("busy tick must not fetch")
		return nil
	})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !tick.Skipped || tick.Index != 0 || tick.NextIndex != 1 {
		t.Fatalf("unexpected busy tick %+v", tick)
	}

	boom := errors.New("feed unreachable")
	tick, err = s.Step(ctx, 3, false, func(context.Context, int) error { return boom })
	if err != nil {
		t.Fatalf("visit errors must not fail the step: %v", err)
	}
	if !errors.Is(tick.VisitErr, boom) || tick.Index != 1 || tick.NextIndex != 2 {
		t.Fatalf("unexpected failing tick %+v", tick)
	}

	state, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state.SourceCursor != 2 || state.TotalSources != 3 || state.LastRun.IsZero() {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestStepResetsCursorWhenSourcesShrink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := kv.NewMemory()
	if err := store.Set(ctx, StateKey, `{"sourceCursor":5,"totalSources":6}`, 0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := New(store, nil)

	var got int
	if _, err := s.Step(ctx, 2, false, func(_ context.Context, index int) error {
		got = index
		return nil
	}); err != nil {
		t.Fatalf("step: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected cursor reset to 0, got %d", got)
	}
}

func TestStepWithoutSources(t *testing.T) {
	t.Parallel()

	tick, err := New(kv.NewMemory(), nil).Step(context.Background(), 0, false, func(context.Context, int) error {
		t.Fatalf("visit must not run without sources")
		return nil
	})
	if err != nil || tick.Index != -1 {
		t.Fatalf("unexpected tick %+v err %v", tick, err)
	}
}
