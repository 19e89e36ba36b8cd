package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/leadscan/internal/blocklist"
	"horse.fit/leadscan/internal/cli"
	"horse.fit/leadscan/internal/config"
	"horse.fit/leadscan/internal/db"
	"horse.fit/leadscan/internal/enrich"
	"horse.fit/leadscan/internal/globaltime"
	"horse.fit/leadscan/internal/kv"
	"horse.fit/leadscan/internal/leads"
	"horse.fit/leadscan/internal/logging"
	"horse.fit/leadscan/internal/notify"
	"horse.fit/leadscan/internal/pipeline"
	"horse.fit/leadscan/internal/queue"
	"horse.fit/leadscan/internal/scheduler"
	"horse.fit/leadscan/internal/scoring"
	"horse.fit/leadscan/internal/settings"
	"horse.fit/leadscan/internal/sources"
)

// loadConfig loads the .env file, the process config and a logger writing to
// logOut.
func loadConfig(envLoader *cli.EnvLoader, logOut io.Writer) (*config.Config, zerolog.Logger, error) {
	envLoader.LoadOrWarn(nil)

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("load config: %w", err)
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("parse LOG_LEVEL=%q: %w", cfg.LogLevel, err)
	}
	return cfg, logging.NewWithWriter(cfg.Environment, level, logOut), nil
}

// openStore connects the configured backend.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (kv.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		store, err := kv.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, db.OptionsFromConfig(cfg, logger))
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		store := db.NewKVStore(pool)
		purged, err := store.PurgeExpired(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("purge expired keys failed")
		} else if purged > 0 {
			logger.Info().Int64("purged", purged).Msg("purged expired keys")
		}
		return store, nil
	case config.BackendMemory:
		logger.Warn().Msg("using in-memory store; state is lost on exit")
		return kv.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// newAnalyzer chains the configured providers: Gemini first, DeepSeek as the
// fallback.
func newAnalyzer(cfg *config.Config, logger zerolog.Logger) *enrich.Chain {
	var providers []enrich.Provider
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		providers = append(providers, enrich.NewGeminiProvider(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.AIRequestTimeout))
	}
	if strings.TrimSpace(cfg.DeepSeekAPIKey) != "" {
		providers = append(providers, enrich.NewChatProvider("deepseek", cfg.DeepSeekURL, cfg.DeepSeekAPIKey, cfg.DeepSeekModel, cfg.AIRequestTimeout))
	}
	if len(providers) == 0 {
		logger.Warn().Msg("no enrichment provider configured; every article will fail analysis")
	}

	return enrich.NewChain(logger, enrich.ChainOptions{
		MaxAttempts:       cfg.AIMaxAttempts,
		RequestsPerSecond: cfg.AIRequestsPerSecond,
	}, providers...)
}

// runtime holds the stores and services shared by the serve, cron and scan
// commands.
type runtime struct {
	cfg       *config.Config
	logger    zerolog.Logger
	store     kv.Store
	leads     *leads.Store
	settings  *settings.Store
	blocklist *blocklist.Store
	notifier  *notify.Gateway
	pipeline  *pipeline.Service
}

func openRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	blocked := blocklist.NewStore(store, globaltime.Now)
	leadStore := leads.NewStore(store,
		leads.WithCompanyBlocker(blocked, blocklist.ExcludedTTL),
		leads.WithLogger(logger),
	)
	settingsStore := settings.NewStore(store)
	gateway := notify.NewGateway(logger, notify.Channels(notify.Config{
		SlackWebhookURL:  cfg.SlackWebhookURL,
		TelegramBotToken: cfg.TelegramBotToken,
		TelegramChatID:   cfg.TelegramChatID,
	})...)

	svc := pipeline.New(pipeline.Deps{
		Store:     store,
		Leads:     leadStore,
		Settings:  settingsStore,
		Blocklist: blocked,
		Queue:     queue.NewCron(store, cfg.PendingTTL, cfg.QueueMaxAttempts),
		Scheduler: scheduler.New(store, globaltime.Now),
		Analyzer:  newAnalyzer(cfg, logger),
		Content:   sources.NewContentFetcher(sources.ContentOptions{}),
		Notifier:  gateway,
		Scorer:    scoring.Scorer{},
		Logger:    logger,
	}, pipeline.Options{
		CronBudget:    cfg.CronBudget,
		ScanBudget:    cfg.ScanBudget,
		Concurrency:   cfg.AIConcurrency,
		BusyThreshold: cfg.QueueBusyThreshold,
		MaxAttempts:   cfg.QueueMaxAttempts,
	})

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		leads:     leadStore,
		settings:  settingsStore,
		blocklist: blocked,
		notifier:  gateway,
		pipeline:  svc,
	}, nil
}

// Close waits for in-flight notifications and closes the store.
func (r *runtime) Close() {
	r.notifier.Wait()
	if err := r.store.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("close store failed")
	}
}
