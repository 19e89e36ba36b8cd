package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/leadscan/internal/cli"
	"horse.fit/leadscan/internal/pipeline"
)

// maxScanRounds bounds cursor follow-ups for one CLI scan.
const maxScanRounds = 200

func runScan(args []string) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", pipeline.DefaultScanLimit, "Maximum leads to return")
	minScore := fs.Int("min-score", -1, "Score threshold (0-100); -1 uses the default")
	days := fs.Int("days", 0, "Only search articles from the last N days (0 = no cutoff)")
	feedLimit := fs.Int("feed-limit", 0, "Items read per feed (0 = default)")
	analyzeLimit := fs.Int("analyze-limit", 0, "Maximum articles to analyze (0 = all)")
	batchSize := fs.Int("batch-size", pipeline.DefaultScanBatchSize, "Articles analyzed per round")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "scan does not accept positional args")
		return 2
	}
	switch {
	case *limit < 1 || *limit > pipeline.MaxScanLimit:
		fmt.Fprintf(os.Stderr, "--limit must be between 1 and %d\n", pipeline.MaxScanLimit)
		return 2
	case *minScore < -1 || *minScore > 100:
		fmt.Fprintln(os.Stderr, "--min-score must be between 0 and 100")
		return 2
	case *days < 0 || *feedLimit < 0 || *analyzeLimit < 0:
		fmt.Fprintln(os.Stderr, "--days, --feed-limit and --analyze-limit must not be negative")
		return 2
	case *batchSize < 1:
		fmt.Fprintln(os.Stderr, "--batch-size must be >= 1")
		return 2
	}

	cfg, logger, err := loadConfig(envLoader, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer connectCancel()
	rt, err := openRuntime(connectCtx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("backend", cfg.StoreBackend).Msg("scan failed to connect to store")
		fmt.Fprintf(os.Stderr, "Failed to connect to store: %v\n", err)
		return 1
	}
	defer rt.Close()

	opts := pipeline.ScanOptions{
		Limit:        *limit,
		BatchSize:    *batchSize,
		FeedLimit:    *feedLimit,
		Days:         *days,
		AnalyzeLimit: *analyzeLimit,
	}
	if *minScore >= 0 {
		opts.MinScore = minScore
	}

	started := time.Now()
	var res pipeline.ScanResult
	for round := 1; ; round++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.CronHardLimit)
		res, err = rt.pipeline.Scan(ctx, opts)
		cancel()
		if err != nil {
			logger.Error().Err(err).Int("round", round).Str("cursor", opts.Cursor).Msg("scan failed")
			fmt.Fprintf(os.Stderr, "Scan failed: %v\n", err)
			return 1
		}
		if res.Done || res.Cursor == "" {
			break
		}
		if round >= maxScanRounds {
			logger.Warn().Int("rounds", round).Int64("remaining", res.Stats.Remaining).Msg("scan stopped before the queue emptied")
			break
		}
		opts.Cursor = res.Cursor
	}
	res.ElapsedMs = time.Since(started).Milliseconds()

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(res); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write result: %v\n", err)
		return 1
	}
	return 0
}
