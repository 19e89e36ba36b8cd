// Package pipeline wires fetching, enrichment, scoring and lead persistence
// into the two entry points: the round-robin cron tick and the on-demand scan.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/leadscan/internal/article"
	"horse.fit/leadscan/internal/blocklist"
	"horse.fit/leadscan/internal/dedup"
	"horse.fit/leadscan/internal/enrich"
	"horse.fit/leadscan/internal/globaltime"
	"horse.fit/leadscan/internal/kv"
	"horse.fit/leadscan/internal/langdetect"
	"horse.fit/leadscan/internal/leads"
	"horse.fit/leadscan/internal/notify"
	"horse.fit/leadscan/internal/queue"
	"horse.fit/leadscan/internal/scheduler"
	"horse.fit/leadscan/internal/scoring"
	"horse.fit/leadscan/internal/settings"
	"horse.fit/leadscan/internal/sources"
)

const (
	DefaultBusyThreshold = 20
	DefaultConcurrency   = 3
	DefaultBudget        = 45 * time.Second

	fetchConcurrency = 4
)

// Analyzer extracts structured facts from one article.
type Analyzer interface {
	Analyze(ctx context.Context, req enrich.Request) (enrich.Analysis, error)
}

// ContentFetcher downloads full article text for hosts it wants.
type ContentFetcher interface {
	Wants(link string) bool
	Fetch(ctx context.Context, link string) (string, error)
}

type Notifier interface {
	Notify(ev notify.Event)
}

// SourceBuilder turns settings into the ordered source rotation.
type SourceBuilder func(cfg settings.Settings, opts sources.Options) []sources.Source

type Deps struct {
	Store     kv.Store
	Leads     *leads.Store
	Settings  *settings.Store
	Blocklist *blocklist.Store
	Queue     *queue.Queue
	Scheduler *scheduler.Scheduler
	Analyzer  Analyzer
	// Content is optional; without it the feed snippet is analyzed.
	Content ContentFetcher
	// Notifier is optional.
	Notifier Notifier
	Sources  SourceBuilder
	Scorer   scoring.Scorer
	// DetectLanguage defaults to the lingua detector.
	DetectLanguage func(title, snippet string) string
	Now            func() time.Time
	Logger         zerolog.Logger
}

type Options struct {
	CronBudget    time.Duration
	ScanBudget    time.Duration
	Concurrency   int
	BusyThreshold int64
	MaxAttempts   int
}

type Service struct {
	store     kv.Store
	leads     *leads.Store
	settings  *settings.Store
	blocklist *blocklist.Store
	queue     *queue.Queue
	scheduler *scheduler.Scheduler
	analyzer  Analyzer
	content   ContentFetcher
	notifier  Notifier
	sources   SourceBuilder
	scorer    scoring.Scorer
	detect    func(title, snippet string) string
	now       func() time.Time
	logger    zerolog.Logger
	opts      Options
}

func New(deps Deps, opts Options) *Service {
	if opts.CronBudget <= 0 {
		opts.CronBudget = DefaultBudget
	}
	if opts.ScanBudget <= 0 {
		opts.ScanBudget = DefaultBudget
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.BusyThreshold < 1 {
		opts.BusyThreshold = DefaultBusyThreshold
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = queue.DefaultMaxAttempts
	}

	now := deps.Now
	if now == nil {
		now = globaltime.Now
	}
	build := deps.Sources
	if build == nil {
		build = sources.Build
	}
	detect := deps.DetectLanguage
	if detect == nil {
		detect = langdetect.DetectArticle
	}

	return &Service{
		store:     deps.Store,
		leads:     deps.Leads,
		settings:  deps.Settings,
		blocklist: deps.Blocklist,
		queue:     deps.Queue,
		scheduler: deps.Scheduler,
		analyzer:  deps.Analyzer,
		content:   deps.Content,
		notifier:  deps.Notifier,
		sources:   build,
		scorer:    deps.Scorer,
		detect:    detect,
		now:       now,
		logger:    deps.Logger,
		opts:      opts,
	}
}

// Queue exposes the cron work queue for status endpoints.
func (s *Service) Queue() *queue.Queue {
	return s.queue
}

// candidate is one analyzed article waiting for scoring.
type candidate struct {
	Item        queue.Item
	Article     article.Article
	SourceLabel string
	Analysis    enrich.Analysis
}

// analyzeItem is the unit of work the runner executes concurrently.
func (s *Service) analyzeItem(ctx context.Context, item queue.Item) (candidate, error) {
	a := item.Article
	content := a.ContentSnippet
	if s.content != nil && s.content.Wants(a.Link) {
		full, err := s.content.Fetch(ctx, a.Link)
		switch {
		case err != nil:
			s.logger.Debug().Err(err).Str("link", a.Link).Msg("full content fetch failed; using snippet")
		case strings.TrimSpace(full) != "":
			content = full
		}
	}
	if a.Language == "" {
		a.Language = s.detect(a.Title, a.ContentSnippet)
	}

	analysis, err := s.analyzer.Analyze(ctx, enrich.Request{
		Title:     a.Title,
		Content:   content,
		SourceTag: a.SourceTag,
		Language:  a.Language,
	})
	if err != nil {
		return candidate{}, err
	}
	return candidate{Item: item, Article: a, SourceLabel: item.SourceLabel, Analysis: analysis}, nil
}

type batchResult struct {
	Cores          []leads.Core
	Created        []string
	BlockedCompany int
	Merged         int
	BelowThreshold int
}

// finalize applies the post-enrichment filters and persists what passes:
// company blocklist, one lead per company, score threshold, upsert, notify.
// Callers pass a context that outlives their deadline. When a write fails,
// the items not yet saved go back to q so a later run analyzes them again.
func (s *Service) finalize(ctx context.Context, q *queue.Queue, batch []candidate, cfg settings.Settings, blocked blocklist.KeySet, minScore int) (batchResult, error) {
	var res batchResult

	allowed := make([]candidate, 0, len(batch))
	for _, c := range batch {
		if blocked.BlocksCompany(c.Analysis.CompanyName) {
			res.BlockedCompany++
			continue
		}
		allowed = append(allowed, c)
	}
	unique := dedup.ByCompany(allowed, func(c candidate) dedup.Entry {
		return dedup.Entry{Company: c.Analysis.CompanyName, PubDate: c.Article.PubDate, Score: c.Analysis.AIScore}
	})
	res.Merged = len(allowed) - len(unique)

	now := s.now()
	var passed []candidate
	for _, c := range unique {
		final := s.scorer.Final(c.Analysis.AIScore, c.Article.PubDate, c.Article.SourceTag, now)
		if !scoring.Passes(final, minScore) {
			res.BelowThreshold++
			continue
		}
		passed = append(passed, c)
		res.Cores = append(res.Cores, buildCore(c, final))
	}

	for i, core := range res.Cores {
		created, err := s.leads.Upsert(ctx, core)
		if err != nil {
			res.Cores = res.Cores[:i]
			s.notifyNew(cfg, res.Cores, res.Created)
			err = fmt.Errorf("upsert lead %s: %w", core.LeadID, err)
			return res, errors.Join(err, s.returnUnsaved(ctx, q, passed[i:]))
		}
		if created {
			res.Created = append(res.Created, core.LeadID)
		}
	}
	s.notifyNew(cfg, res.Cores, res.Created)
	return res, nil
}

// returnUnsaved pushes analyzed but unsaved items back without charging an
// attempt. An item that cannot be pushed back has its pending marker released
// so the next fetch of its source queues it again.
func (s *Service) returnUnsaved(ctx context.Context, q *queue.Queue, unsaved []candidate) error {
	var errs []error
	for _, c := range unsaved {
		err := q.PushBack(ctx, c.Item)
		if err == nil {
			continue
		}
		if relErr := q.Release(ctx, c.Item.LeadID()); relErr != nil {
			err = errors.Join(err, relErr)
		}
		s.logger.Error().Err(err).Str("lead_id", c.Item.LeadID()).Msg("could not return unsaved item to the queue")
		errs = append(errs, err)
	}
	if len(unsaved) > 0 {
		s.logger.Warn().Int("returned", len(unsaved)-len(errs)).Msg("unsaved leads returned to the queue")
	}
	return errors.Join(errs...)
}

func buildCore(c candidate, final int) leads.Core {
	a := c.Article
	source := strings.TrimSpace(c.SourceLabel)
	if source == "" {
		source = a.SourceCategory
	}
	if source == "" {
		source = a.SourceTag
	}
	return leads.Core{
		LeadID:         a.LeadID(),
		Title:          a.Title,
		Link:           a.Link,
		ContentSnippet: a.ContentSnippet,
		PubDate:        a.PubDate,
		Source:         source,
		SourceTag:      a.SourceTag,
		Keyword:        a.MatchedKeyword,
		AIAnalysis:     c.Analysis,
		Contact:        leads.ContactFromAnalysis(c.Analysis),
		FinalScore:     final,
	}
}

func (s *Service) notifyNew(cfg settings.Settings, cores []leads.Core, created []string) {
	if s.notifier == nil || len(created) == 0 || !cfg.NotificationsEnabled() {
		return
	}
	isNew := make(map[string]struct{}, len(created))
	for _, id := range created {
		isNew[id] = struct{}{}
	}
	threshold := cfg.NotifyMinScore()
	for _, core := range cores {
		if _, ok := isNew[core.LeadID]; !ok || core.FinalScore < threshold {
			continue
		}
		s.notifier.Notify(notify.Event{
			LeadID:  core.LeadID,
			Title:   core.Title,
			Company: core.AIAnalysis.CompanyName,
			Score:   core.FinalScore,
			Angle:   core.AIAnalysis.SalesAngle,
			Link:    core.Link,
			Email:   core.Contact.Email,
			Phone:   core.Contact.Phone,
		})
	}
}

// loadFilters reads the settings document and the effective company
// blocklist, sweeping expired blocks on the way.
func (s *Service) loadFilters(ctx context.Context) (settings.Settings, blocklist.KeySet, error) {
	cfg, err := s.settings.Load(ctx)
	if err != nil {
		return settings.Settings{}, blocklist.KeySet{}, err
	}
	blocked, err := s.blocklist.Load(ctx, cfg.ExcludedCompanies, cfg.ActiveTemporaryExclusions(s.now()))
	if err != nil {
		return settings.Settings{}, blocklist.KeySet{}, err
	}
	return cfg, blocked, nil
}

// fetchAll reads every source concurrently. Failed sources are logged and
// skipped.
func (s *Service) fetchAll(ctx context.Context, srcs []sources.Source) []article.Article {
	results := make([][]article.Article, len(srcs))
	var g errgroup.Group
	g.SetLimit(fetchConcurrency)
	for i, src := range srcs {
		g.Go(func() error {
			items, err := src.Fetch(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Str("source", src.Label()).Msg("source fetch failed")
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var out []article.Article
	for _, items := range results {
		out = append(out, items...)
	}
	return out
}
