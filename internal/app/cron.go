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

func runCron(args []string) int {
	fs := flag.NewFlagSet("cron", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	minScore := fs.Int("min-score", -1, "Persistence threshold override (0-100); -1 uses the stored setting")
	loop := fs.Bool("loop", false, "Keep ticking while the result asks to continue")
	maxTicks := fs.Int("max-ticks", 50, "Upper bound on ticks with --loop")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "cron does not accept positional args")
		return 2
	}
	if *minScore < -1 || *minScore > 100 {
		fmt.Fprintln(os.Stderr, "--min-score must be between 0 and 100")
		return 2
	}
	if *maxTicks < 1 {
		fmt.Fprintln(os.Stderr, "--max-ticks must be >= 1")
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
		logger.Error().Err(err).Str("backend", cfg.StoreBackend).Msg("cron failed to connect to store")
		fmt.Fprintf(os.Stderr, "Failed to connect to store: %v\n", err)
		return 1
	}
	defer rt.Close()

	opts := pipeline.CronOptions{}
	if *minScore >= 0 {
		opts.MinScore = minScore
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	for tick := 1; tick <= *maxTicks; tick++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.CronHardLimit)
		res, err := rt.pipeline.RunCron(ctx, opts)
		cancel()
		if err != nil {
			logger.Error().Err(err).Int("tick", tick).Msg("cron tick failed")
			fmt.Fprintf(os.Stderr, "Cron tick failed: %v\n", err)
			return 1
		}
		if err := encoder.Encode(res); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write result: %v\n", err)
			return 1
		}
		if !*loop || !res.Continue {
			break
		}
	}
	return 0
}
