// Package runner drains a work queue under a wall-clock budget. Work that
// cannot be finished in time goes back to the queue so the next invocation
// picks it up.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/leadscan/internal/globaltime"
	"horse.fit/leadscan/internal/queue"
)

// Queue is the subset of queue.Queue the runner needs.
type Queue interface {
	Pop(ctx context.Context) (queue.Item, error)
	PushBack(ctx context.Context, it queue.Item) error
	Requeue(ctx context.Context, it queue.Item, cause error) (bool, error)
}

type Options struct {
	// Budget is the wall-clock ceiling measured from Started. Zero means no budget.
	Budget time.Duration
	// Limit caps the number of items handed to process. Zero means unlimited.
	Limit int
	// Concurrency bounds simultaneous process calls.
	Concurrency int
	Started     time.Time
	Now         func() time.Time
	Logger      zerolog.Logger
}

type Result[T any] struct {
	Outputs         []T
	Processed       int
	Failed          int
	Requeued        int
	Dropped         int
	DeadLettered    int
	BudgetExhausted bool
	LimitReached    bool
	Elapsed         time.Duration
}

// Attempted is the number of items process was called for.
func (r Result[T]) Attempted() int {
	return r.Processed + r.Failed
}

type outcome[T any] struct {
	out     T
	err     error
	skipped bool
}

// Drain pops items in waves of at most opts.Concurrency and runs process on
// each wave concurrently. The budget is checked before every pop and again
// right before each process call; an item that misses the second checkpoint is
// pushed back untouched, as is one whose call fails after ctx is cancelled.
// Other failures are requeued with an attempt charge and corrupt payloads are
// dropped. Store errors abort the drain.
func Drain[T any](ctx context.Context, q Queue, opts Options, process func(context.Context, queue.Item) (T, error)) (res Result[T], err error) {
	now := opts.Now
	if now == nil {
		now = globaltime.Now
	}
	started := opts.Started
	if started.IsZero() {
		started = now()
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	overBudget := func() bool {
		return opts.Budget > 0 && now().Sub(started) >= opts.Budget
	}

	defer func() { res.Elapsed = now().Sub(started) }()

	for {
		waveSize := concurrency
		if opts.Limit > 0 {
			left := opts.Limit - res.Attempted()
			if left <= 0 {
				res.LimitReached = true
				return res, nil
			}
			if left < waveSize {
				waveSize = left
			}
		}

		wave := make([]queue.Item, 0, waveSize)
		empty := false
		for len(wave) < waveSize {
			if overBudget() || ctx.Err() != nil {
				res.BudgetExhausted = true
				break
			}
			it, err := q.Pop(ctx)
			if errors.Is(err, queue.ErrEmpty) {
				empty = true
				break
			}
			if errors.Is(err, queue.ErrCorruptItem) {
				res.Dropped++
				opts.Logger.Warn().Err(err).Msg("dropping corrupt queue item")
				continue
			}
			if err != nil {
				if pushErr := pushBackAll(ctx, q, wave); pushErr != nil {
					return res, errors.Join(err, pushErr)
				}
				return res, err
			}
			wave = append(wave, it)
		}

		if len(wave) > 0 {
			if err := runWave(ctx, q, opts, overBudget, wave, process, &res); err != nil {
				return res, err
			}
		}

		if empty || res.BudgetExhausted || len(wave) == 0 {
			return res, nil
		}
	}
}

func runWave[T any](
	ctx context.Context,
	q Queue,
	opts Options,
	overBudget func() bool,
	wave []queue.Item,
	process func(context.Context, queue.Item) (T, error),
	res *Result[T],
) error {
	outcomes := make([]outcome[T], len(wave))
	writeCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(len(wave))
	for i, it := range wave {
		g.Go(func() error {
			if overBudget() || ctx.Err() != nil {
				outcomes[i].skipped = true
				return nil
			}
			out, err := process(ctx, it)
			outcomes[i] = outcome[T]{out: out, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		it := wave[i]
		switch {
		case o.skipped:
			res.BudgetExhausted = true
			if err := q.PushBack(writeCtx, it); err != nil {
				return fmt.Errorf("push back over-budget item: %w", err)
			}
			res.Requeued++
		case o.err != nil && ctx.Err() != nil:
			// Cancelled mid-call; the item did not really fail.
			res.BudgetExhausted = true
			if err := q.PushBack(writeCtx, it); err != nil {
				return fmt.Errorf("push back cancelled item: %w", err)
			}
			res.Requeued++
		case o.err != nil:
			res.Failed++
			dead, err := q.Requeue(writeCtx, it, o.err)
			if err != nil {
				return fmt.Errorf("requeue failed item: %w", err)
			}
			if dead {
				res.DeadLettered++
				opts.Logger.Error().Err(o.err).Str("lead_id", it.LeadID()).Int("attempts", it.Attempts+1).Msg("item moved to dead letters")
			} else {
				res.Requeued++
				opts.Logger.Warn().Err(o.err).Str("lead_id", it.LeadID()).Msg("item processing failed, requeued")
			}
		default:
			res.Processed++
			res.Outputs = append(res.Outputs, o.out)
		}
	}
	return nil
}

func pushBackAll(ctx context.Context, q Queue, items []queue.Item) error {
	var errs []error
	for _, it := range items {
		if err := q.PushBack(ctx, it); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
