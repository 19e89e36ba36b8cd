package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"horse.fit/leadscan/internal/blocklist"
	"horse.fit/leadscan/internal/dedup"
	"horse.fit/leadscan/internal/kv"
	"horse.fit/leadscan/internal/leads"
	"horse.fit/leadscan/internal/queue"
	"horse.fit/leadscan/internal/runner"
	"horse.fit/leadscan/internal/settings"
	"horse.fit/leadscan/internal/sources"
)

const (
	DefaultScanLimit     = 30
	MaxScanLimit         = 100
	DefaultScanBatchSize = 15

	ScanCacheTTL = 300 * time.Second
	scanStateTTL = time.Hour

	scanTokensKey = "sales:leads:scan:tokens"
	scanDeadKey   = "sales:leads:scan:dead"
)

var (
	ErrUnknownCursor   = errors.New("unknown or expired scan cursor")
	ErrInvalidScanArgs = errors.New("invalid scan arguments")
)

func scanCacheKey(limit, minScore int) string {
	return fmt.Sprintf("sales:leads:scan:limit=%d:min=%d", limit, minScore)
}

func scanListKey(token string) string { return "sales:leads:scan:list:" + token }
func scanMetaKey(token string) string { return "sales:leads:scan:meta:" + token }

type ScanOptions struct {
	Limit    int
	MinScore *int
	Cursor   string
	// BatchSize caps the articles analyzed per call.
	BatchSize int
	FeedLimit int
	// Days limits the keyword search to recent articles.
	Days int
	// AnalyzeLimit caps the articles queued for the whole scan. Zero queues
	// everything that survives filtering.
	AnalyzeLimit int
}

type ScanStats struct {
	TotalArticles int   `json:"total_articles"`
	Analyzed      int   `json:"analyzed"`
	PassedFilter  int   `json:"passed_filter"`
	Remaining     int64 `json:"remaining"`
}

type ScanResult struct {
	Leads     []leads.Core `json:"leads"`
	Cursor    string       `json:"cursor,omitempty"`
	Done      bool         `json:"done"`
	Cached    bool         `json:"cached"`
	Limit     int          `json:"limit"`
	MinScore  int          `json:"minScore"`
	Stats     ScanStats    `json:"stats"`
	NewLeads  int          `json:"newLeads"`
	ElapsedMs int64        `json:"elapsedMs"`
}

// scanState survives between the calls of one cursor-driven scan.
type scanState struct {
	Token         string       `json:"token"`
	Limit         int          `json:"limit"`
	MinScore      int          `json:"minScore"`
	BatchSize     int          `json:"batchSize"`
	TotalArticles int          `json:"totalArticles"`
	Analyzed      int          `json:"analyzed"`
	NewLeads      int          `json:"newLeads"`
	Leads         []leads.Core `json:"leads"`
	CreatedAt     int64        `json:"createdAt"`
}

func (o ScanOptions) validate() error {
	switch {
	case o.Limit < 0:
		return fmt.Errorf("%w: limit must be >= 0", ErrInvalidScanArgs)
	case o.MinScore != nil && (*o.MinScore < 0 || *o.MinScore > 100):
		return fmt.Errorf("%w: minScore must be within 0..100", ErrInvalidScanArgs)
	case o.BatchSize < 0, o.FeedLimit < 0, o.Days < 0, o.AnalyzeLimit < 0:
		return fmt.Errorf("%w: batchSize, feedLimit, days and analyzeLimit must be >= 0", ErrInvalidScanArgs)
	}
	return nil
}

// Scan runs the on-demand scan. The first call fetches every source at once
// and queues the survivors in a per-scan list; it and every later call with the
// returned cursor drain that list under the scan budget. A scan that finishes
// in its first call is cached for a few minutes per (limit, minScore).
func (s *Service) Scan(ctx context.Context, opts ScanOptions) (res ScanResult, err error) {
	started := s.now()
	defer func() { res.ElapsedMs = s.now().Sub(started).Milliseconds() }()

	if err := opts.validate(); err != nil {
		return res, err
	}
	s.sweepScans(ctx)

	cfg, blocked, err := s.loadFilters(ctx)
	if err != nil {
		return res, err
	}

	var state scanState
	firstCall := strings.TrimSpace(opts.Cursor) == ""
	if firstCall {
		state = scanState{
			Limit:     clampScanLimit(opts.Limit),
			MinScore:  settings.DefaultScanMinScore,
			BatchSize: opts.BatchSize,
			CreatedAt: started.UnixMilli(),
		}
		if opts.MinScore != nil {
			state.MinScore = *opts.MinScore
		}
		if state.BatchSize == 0 {
			state.BatchSize = DefaultScanBatchSize
		}

		if cached, ok, err := s.cachedScan(ctx, state.Limit, state.MinScore); err != nil {
			return res, err
		} else if ok {
			return ScanResult{Leads: cached, Done: true, Cached: true, Limit: state.Limit, MinScore: state.MinScore}, nil
		}

		state.Token = uuid.NewString()
		if err := s.seedScan(ctx, &state, cfg, blocked, opts); err != nil {
			return res, err
		}
	} else {
		state, err = s.loadScan(ctx, strings.TrimSpace(opts.Cursor))
		if err != nil {
			return res, err
		}
		if opts.BatchSize > 0 {
			state.BatchSize = opts.BatchSize
		}
	}

	list := s.scanQueue(state.Token)
	drained, drainErr := runner.Drain(ctx, list, runner.Options{
		Budget:      s.opts.ScanBudget,
		Limit:       state.BatchSize,
		Concurrency: s.opts.Concurrency,
		Started:     started,
		Now:         s.now,
		Logger:      s.logger,
	}, s.analyzeItem)
	state.Analyzed += drained.Processed

	writeCtx := context.WithoutCancel(ctx)
	batch, err := s.finalize(writeCtx, list, drained.Outputs, cfg, blocked, state.MinScore)
	if err := errors.Join(drainErr, err); err != nil {
		return res, err
	}
	state.NewLeads += len(batch.Created)
	state.Leads = mergeScanLeads(state.Leads, batch.Cores)

	remaining, err := list.Len(writeCtx)
	if err != nil {
		return res, err
	}

	res = ScanResult{
		Done:     remaining == 0,
		Limit:    state.Limit,
		MinScore: state.MinScore,
		NewLeads: state.NewLeads,
		Stats: ScanStats{
			TotalArticles: state.TotalArticles,
			Analyzed:      state.Analyzed,
			PassedFilter:  len(state.Leads),
			Remaining:     remaining,
		},
	}
	res.Leads = state.Leads
	if len(res.Leads) > state.Limit {
		res.Leads = res.Leads[:state.Limit]
	}
	if res.Leads == nil {
		res.Leads = []leads.Core{}
	}

	if res.Done {
		s.dropScan(writeCtx, state.Token)
		if firstCall {
			s.cacheScan(writeCtx, state.Limit, state.MinScore, res.Leads)
		}
	} else {
		if err := s.saveScan(writeCtx, state); err != nil {
			return res, err
		}
		res.Cursor = state.Token
	}

	s.logger.Info().
		Str("scan", state.Token).
		Int("analyzed", drained.Processed).
		Int("passed", len(batch.Cores)).
		Int64("remaining", remaining).
		Bool("done", res.Done).
		Msg("scan step finished")
	return res, nil
}

func clampScanLimit(limit int) int {
	if limit <= 0 {
		return DefaultScanLimit
	}
	if limit > MaxScanLimit {
		return MaxScanLimit
	}
	return limit
}

func (s *Service) scanQueue(token string) *queue.Queue {
	return queue.New(s.store, queue.Options{
		Key:         scanListKey(token),
		MaxAttempts: s.opts.MaxAttempts,
		DeadKey:     scanDeadKey,
	})
}

// seedScan fetches every source, filters and queues the survivors.
func (s *Service) seedScan(ctx context.Context, state *scanState, cfg settings.Settings, blocked blocklist.KeySet, opts ScanOptions) error {
	feedLimit := opts.FeedLimit
	if feedLimit == 0 {
		feedLimit = sources.DefaultFeedLimit
	}
	fetched := s.fetchAll(ctx, s.sources(cfg, sources.Options{FeedLimit: feedLimit, SearchDays: opts.Days, Now: s.now}))
	state.TotalArticles = len(fetched)

	list := s.scanQueue(state.Token)
	queued := 0
	for _, a := range dedup.ByLink(fetched) {
		if opts.AnalyzeLimit > 0 && queued >= opts.AnalyzeLimit {
			break
		}
		if blocked.Blocks(a) {
			continue
		}
		current, err := s.leads.GetState(ctx, a.LeadID())
		switch {
		case err == nil && current.Status == leads.StatusExcluded:
			continue
		case err != nil && !errors.Is(err, leads.ErrNotFound):
			return err
		}
		if _, err := list.Enqueue(ctx, queue.Item{Article: a, SourceLabel: a.SourceCategory}); err != nil {
			return err
		}
		queued++
	}
	if err := s.trackScan(ctx, state.Token); err != nil {
		return err
	}
	s.logger.Info().
		Str("scan", state.Token).
		Int("fetched", len(fetched)).
		Int("queued", queued).
		Msg("scan seeded")
	return nil
}

// mergeScanLeads folds a batch into the running result: one lead per id and
// per company, best score first.
func mergeScanLeads(current, batch []leads.Core) []leads.Core {
	byID := make(map[string]int, len(current)+len(batch))
	merged := make([]leads.Core, 0, len(current)+len(batch))
	for _, core := range append(append([]leads.Core(nil), current...), batch...) {
		if i, ok := byID[core.LeadID]; ok {
			merged[i] = core
			continue
		}
		byID[core.LeadID] = len(merged)
		merged = append(merged, core)
	}
	merged = dedup.ByCompany(merged, func(c leads.Core) dedup.Entry {
		return dedup.Entry{Company: c.AIAnalysis.CompanyName, PubDate: c.PubDate, Score: c.AIAnalysis.AIScore}
	})
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].FinalScore > merged[j].FinalScore
	})
	return merged
}

func (s *Service) cachedScan(ctx context.Context, limit, minScore int) ([]leads.Core, bool, error) {
	raw, err := s.store.Get(ctx, scanCacheKey(limit, minScore))
	if kv.IsNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read scan cache: %w", err)
	}
	var out []leads.Core
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.logger.Warn().Err(err).Msg("discarding corrupt scan cache")
		return nil, false, nil
	}
	return out, true, nil
}

func (s *Service) cacheScan(ctx context.Context, limit, minScore int, result []leads.Core) {
	payload, err := json.Marshal(result)
	if err == nil {
		err = s.store.Set(ctx, scanCacheKey(limit, minScore), string(payload), ScanCacheTTL)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache scan result failed")
	}
}

func (s *Service) loadScan(ctx context.Context, token string) (scanState, error) {
	raw, err := s.store.Get(ctx, scanMetaKey(token))
	if kv.IsNil(err) {
		return scanState{}, ErrUnknownCursor
	}
	if err != nil {
		return scanState{}, fmt.Errorf("load scan state: %w", err)
	}
	var state scanState
	if err := json.Unmarshal([]byte(raw), &state); err != nil || state.Token != token {
		return scanState{}, ErrUnknownCursor
	}
	return state, nil
}

func (s *Service) saveScan(ctx context.Context, state scanState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode scan state: %w", err)
	}
	if err := s.store.Set(ctx, scanMetaKey(state.Token), string(payload), scanStateTTL); err != nil {
		return fmt.Errorf("save scan state: %w", err)
	}
	return s.trackScan(ctx, state.Token)
}

// trackScan records when an unfinished scan list may be swept.
func (s *Service) trackScan(ctx context.Context, token string) error {
	expires := float64(s.now().Add(scanStateTTL).UnixMilli())
	if err := s.store.ZAdd(ctx, scanTokensKey, kv.Z{Score: expires, Member: token}); err != nil {
		return fmt.Errorf("track scan token: %w", err)
	}
	return nil
}

func (s *Service) dropScan(ctx context.Context, token string) {
	if err := s.scanQueue(token).Drop(ctx); err != nil {
		s.logger.Warn().Err(err).Str("scan", token).Msg("drop scan list failed")
	}
	if _, err := s.store.Del(ctx, scanMetaKey(token)); err != nil {
		s.logger.Warn().Err(err).Str("scan", token).Msg("drop scan state failed")
	}
	if err := s.store.ZRem(ctx, scanTokensKey, token); err != nil {
		s.logger.Warn().Err(err).Str("scan", token).Msg("untrack scan token failed")
	}
}

// sweepScans deletes the lists of scans abandoned before they drained. The
// state documents expire on their own; the lists carry no TTL.
func (s *Service) sweepScans(ctx context.Context) {
	expired, err := s.store.ZRangeByScore(ctx, scanTokensKey, kv.NegInf, float64(s.now().UnixMilli()))
	if err != nil {
		s.logger.Warn().Err(err).Msg("list expired scans failed")
		return
	}
	for _, z := range expired {
		s.dropScan(ctx, z.Member)
	}
}
