package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	maxBackoffDelay    = 30 * time.Second
)

type ChainOptions struct {
	// MaxAttempts bounds calls per provider while it keeps answering 429.
	MaxAttempts int
	// BaseDelay is the first backoff; each retry doubles it.
	BaseDelay time.Duration
	// RequestsPerSecond paces calls across all providers; 0 disables pacing.
	RequestsPerSecond float64
}

// Chain tries providers in order. The first provider is the primary; the rest
// are fallbacks used only after the previous one is exhausted.
type Chain struct {
	providers   []Provider
	maxAttempts int
	baseDelay   time.Duration
	limiter     *rate.Limiter
	logger      zerolog.Logger
	// newTimer returns the timer waited on between retries; nil means a
	// real timer.
	newTimer func() backoff.Timer
}

func NewChain(logger zerolog.Logger, opts ChainOptions, providers ...Provider) *Chain {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	active := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			active = append(active, p)
		}
	}

	return &Chain{
		providers:   active,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		limiter:     limiter,
		logger:      logger,
	}
}

func (c *Chain) Name() string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return strings.Join(names, ">")
}

// Analyze runs the provider chain. A provider is retried with exponential
// backoff while it reports ErrRateLimited, and once with a stricter prompt
// after a malformed reply; any other failure moves on to the next provider.
func (c *Chain) Analyze(ctx context.Context, req Request) (Analysis, error) {
	if len(c.providers) == 0 {
		return Analysis{}, ErrNoProviders
	}

	var lastErr error
	for _, provider := range c.providers {
		analysis, err := c.analyzeWith(ctx, provider, req)
		if err == nil {
			analysis.fillContactFallback(req.Content, req.Title)
			return analysis, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Analysis{}, ctxErr
		}
		lastErr = err
		c.logger.Warn().Err(err).Str("provider", provider.Name()).Msg("enrichment provider failed")
	}
	return Analysis{}, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

func (c *Chain) analyzeWith(ctx context.Context, provider Provider, req Request) (Analysis, error) {
	var (
		analysis    Analysis
		attempt     = 1
		strictTried = req.Strict
	)
	call := func() error {
		for {
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					return backoff.Permanent(err)
				}
			}

			got, err := provider.Analyze(ctx, req)
			switch {
			case err == nil:
				analysis = got
				return nil
			case errors.Is(err, ErrRateLimited):
				return err
			case errors.Is(err, ErrMalformedResponse) && !strictTried:
				strictTried = true
				req.Strict = true
			default:
				return backoff.Permanent(err)
			}
		}
	}
	onRetry := func(err error, delay time.Duration) {
		c.logger.Debug().
			Err(err).
			Str("provider", provider.Name()).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("provider rate limited, backing off")
		attempt++
	}

	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}
	if err := backoff.RetryNotifyWithTimer(call, c.policy(ctx), onRetry, timer); err != nil {
		return Analysis{}, err
	}
	return analysis, nil
}

// policy doubles the delay from baseDelay up to maxBackoffDelay and allows
// maxAttempts calls in total.
func (c *Chain) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.baseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = maxBackoffDelay
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.maxAttempts-1)), ctx)
}
