package pipeline

import (
	"context"
	"errors"
	"fmt"

	"horse.fit/leadscan/internal/blocklist"
	"horse.fit/leadscan/internal/dedup"
	"horse.fit/leadscan/internal/queue"
	"horse.fit/leadscan/internal/runner"
	"horse.fit/leadscan/internal/sources"
)

type CronOptions struct {
	// MinScore overrides the stored persistence threshold.
	MinScore *int
}

// CronResult reports one tick. Continue tells the caller to invoke again
// because the queue still holds work.
type CronResult struct {
	Fetched         int    `json:"fetched"`
	Enqueued        int    `json:"enqueued"`
	Processed       int    `json:"processed"`
	NewLeads        int    `json:"newLeads"`
	QueueLength     int64  `json:"queueLength"`
	Continue        bool   `json:"continue"`
	BlockedKeywords int    `json:"blockedKeywords"`
	ElapsedMs       int64  `json:"elapsedMs"`
	Source          string `json:"source,omitempty"`
	SourceIndex     int    `json:"sourceIndex"`
	NextSourceIndex int    `json:"nextSourceIndex"`
	TotalSources    int    `json:"totalSources"`
	FetchSkipped    bool   `json:"fetchSkipped"`
	SourceError     string `json:"sourceError,omitempty"`
	BlockedArticles int    `json:"blockedArticles"`
	Saved           int    `json:"saved"`
	Failed          int    `json:"failed"`
	Requeued        int    `json:"requeued"`
	DeadLettered    int    `json:"deadLettered"`
	MinScore        int    `json:"minScore"`
}

// RunCron runs one scheduler tick and drains the work queue until it is empty
// or the cron budget is spent. When the backlog is at the busy threshold the
// fetch is skipped and the whole budget goes to draining.
func (s *Service) RunCron(ctx context.Context, opts CronOptions) (res CronResult, err error) {
	started := s.now()
	defer func() { res.ElapsedMs = s.now().Sub(started).Milliseconds() }()

	cfg, blocked, err := s.loadFilters(ctx)
	if err != nil {
		return res, err
	}
	res.BlockedKeywords = blocked.Len()
	res.MinScore = cfg.CronMinScore()
	if opts.MinScore != nil {
		res.MinScore = *opts.MinScore
	}

	backlog, err := s.queue.Len(ctx)
	if err != nil {
		return res, err
	}
	busy := backlog >= s.opts.BusyThreshold

	srcs := s.sources(cfg, sources.Options{FeedLimit: sources.CronFeedLimit, Now: s.now})
	res.TotalSources = len(srcs)

	tick, err := s.scheduler.Step(ctx, len(srcs), busy, func(ctx context.Context, index int) error {
		src := srcs[index]
		res.Source = src.Label()
		stats, err := s.enqueueSource(ctx, src, blocked)
		res.Fetched = stats.fetched
		res.Enqueued = stats.enqueued
		res.BlockedArticles = stats.blocked
		return err
	})
	if err != nil {
		return res, err
	}
	res.SourceIndex = tick.Index
	res.NextSourceIndex = tick.NextIndex
	res.FetchSkipped = tick.Skipped
	if tick.Skipped {
		s.logger.Info().Int64("queue_length", backlog).Msg("queue busy; skipping fetch")
	}
	if tick.VisitErr != nil {
		res.SourceError = tick.VisitErr.Error()
		s.logger.Warn().Err(tick.VisitErr).Str("source", res.Source).Msg("source fetch failed; cursor advanced")
	}

	drained, drainErr := runner.Drain(ctx, s.queue, runner.Options{
		Budget:      s.opts.CronBudget,
		Concurrency: s.opts.Concurrency,
		Started:     started,
		Now:         s.now,
		Logger:      s.logger,
	}, s.analyzeItem)
	res.Processed = drained.Processed
	res.Failed = drained.Failed
	res.Requeued = drained.Requeued
	res.DeadLettered = drained.DeadLettered

	// Analyzed work is persisted even when ctx was cancelled mid-drain.
	writeCtx := context.WithoutCancel(ctx)
	batch, err := s.finalize(writeCtx, s.queue, drained.Outputs, cfg, blocked, res.MinScore)
	res.Saved = len(batch.Cores)
	res.NewLeads = len(batch.Created)
	if err := errors.Join(drainErr, err); err != nil {
		return res, err
	}

	res.QueueLength, err = s.queue.Len(writeCtx)
	if err != nil {
		return res, err
	}
	res.Continue = res.QueueLength > 0

	s.logger.Info().
		Str("source", res.Source).
		Int("fetched", res.Fetched).
		Int("enqueued", res.Enqueued).
		Int("processed", res.Processed).
		Int("new_leads", res.NewLeads).
		Int64("queue_length", res.QueueLength).
		Dur("elapsed", s.now().Sub(started)).
		Msg("cron tick finished")
	return res, nil
}

type enqueueStats struct {
	fetched  int
	enqueued int
	blocked  int
	known    int
	pending  int
}

// enqueueSource fetches one source and queues the articles that are not
// blocked, not already leads and not already queued.
func (s *Service) enqueueSource(ctx context.Context, src sources.Source, blocked blocklist.KeySet) (enqueueStats, error) {
	var stats enqueueStats
	fetched, err := src.Fetch(ctx)
	if err != nil {
		return stats, err
	}
	stats.fetched = len(fetched)

	for _, a := range dedup.ByLink(fetched) {
		if blocked.Blocks(a) {
			stats.blocked++
			continue
		}
		id := a.LeadID()
		exists, err := s.leads.HasState(ctx, id)
		if err != nil {
			return stats, err
		}
		if exists {
			stats.known++
			continue
		}
		added, err := s.queue.Enqueue(ctx, queue.Item{Article: a, SourceLabel: src.Label()})
		if err != nil {
			return stats, fmt.Errorf("enqueue %s: %w", id, err)
		}
		if !added {
			stats.pending++
			continue
		}
		stats.enqueued++
	}

	s.logger.Debug().
		Str("source", src.Label()).
		Int("fetched", stats.fetched).
		Int("enqueued", stats.enqueued).
		Int("blocked", stats.blocked).
		Int("known", stats.known).
		Int("pending", stats.pending).
		Msg("source enqueued")
	return stats, nil
}
