// Package scheduler rotates fetch attention across configured sources. The
// cursor is persisted so consecutive invocations visit sources in turn.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"horse.fit/leadscan/internal/kv"
)

const StateKey = "scan:cron:state"

// CronState is the persisted round-robin cursor.
type CronState struct {
	SourceCursor int       `json:"sourceCursor"`
	LastRun      time.Time `json:"lastRun"`
	TotalSources int       `json:"totalSources"`
}

type Scheduler struct {
	kv  kv.Store
	now func() time.Time
}

func New(store kv.Store, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{kv: store, now: now}
}

func (s *Scheduler) Load(ctx context.Context) (CronState, error) {
	raw, err := s.kv.Get(ctx, StateKey)
	if kv.IsNil(err) {
		return CronState{}, nil
	}
	if err != nil {
		return CronState{}, fmt.Errorf("load cron state: %w", err)
	}
	var state CronState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		// A corrupt cursor restarts the rotation.
		return CronState{}, nil
	}
	return state, nil
}

func (s *Scheduler) save(ctx context.Context, state CronState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode cron state: %w", err)
	}
	if err := s.kv.Set(ctx, StateKey, string(payload), 0); err != nil {
		return fmt.Errorf("save cron state: %w", err)
	}
	return nil
}

// Tick is the outcome of one scheduler step.
type Tick struct {
	Index     int
	NextIndex int
	Total     int
	// Skipped is set when the busy guard suppressed the fetch.
	Skipped bool
	// VisitErr is the error returned by visit. It never stops the rotation.
	VisitErr error
}

// Step runs visit for the source under the cursor unless busy is set, then
// advances the cursor modulo total. The cursor advances whether visit was
// skipped, failed or succeeded. With no sources nothing happens.
func (s *Scheduler) Step(ctx context.Context, total int, busy bool, visit func(ctx context.Context, index int) error) (Tick, error) {
	if total <= 0 {
		return Tick{Index: -1, NextIndex: -1}, nil
	}
	state, err := s.Load(ctx)
	if err != nil {
		return Tick{}, err
	}

	index := state.SourceCursor
	if index < 0 || index >= total {
		index = 0
	}
	tick := Tick{Index: index, Total: total, Skipped: busy}
	if !busy {
		tick.VisitErr = visit(ctx, index)
	}

	tick.NextIndex = (index + 1) % total
	if err := s.save(ctx, CronState{SourceCursor: tick.NextIndex, LastRun: s.now().UTC(), TotalSources: total}); err != nil {
		return tick, err
	}
	return tick, nil
}
