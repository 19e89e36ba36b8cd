// Package notify pages operators about new high-scoring leads. Delivery is
// best effort: channel failures are logged and never reach the pipeline.
package notify

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	maskedValue         = "********"
	defaultSendTimeout  = 10 * time.Second
	defaultSlackTimeout = 5 * time.Second
)

// Event is the payload every channel renders.
type Event struct {
	LeadID  string `json:"lead_id"`
	Title   string `json:"title"`
	Company string `json:"company"`
	Score   int    `json:"score"`
	Angle   string `json:"angle"`
	Link    string `json:"link"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

type Channel interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Config carries channel credentials. Empty or masked values disable a
// channel.
type Config struct {
	SlackWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string
	HTTPClient       *http.Client
}

func usable(v string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed != "" && trimmed != maskedValue
}

// Channels returns the channels whose credentials are set.
func Channels(cfg Config) []Channel {
	var out []Channel
	if usable(cfg.SlackWebhookURL) {
		out = append(out, NewSlackChannel(cfg.SlackWebhookURL, cfg.HTTPClient))
	}
	if usable(cfg.TelegramBotToken) && usable(cfg.TelegramChatID) {
		out = append(out, NewTelegramChannel(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.HTTPClient))
	}
	return out
}

// Gateway fans events out to every channel on a background goroutine.
type Gateway struct {
	channels []Channel
	logger   zerolog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewGateway(logger zerolog.Logger, channels ...Channel) *Gateway {
	active := make([]Channel, 0, len(channels))
	for _, c := range channels {
		if c != nil {
			active = append(active, c)
		}
	}
	return &Gateway{channels: active, logger: logger, timeout: defaultSendTimeout}
}

func (g *Gateway) Enabled() bool {
	return g != nil && len(g.channels) > 0
}

// Notify returns immediately. Use Wait to block until queued sends finish.
func (g *Gateway) Notify(ev Event) {
	if !g.Enabled() {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.dispatch(ev)
	}()
}

func (g *Gateway) dispatch(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	var group errgroup.Group
	for _, ch := range g.channels {
		group.Go(func() error {
			if err := ch.Send(ctx, ev); err != nil {
				g.logger.Warn().
					Err(err).
					Str("channel", ch.Name()).
					Str("lead_id", ev.LeadID).
					Msg("lead notification failed")
				return nil
			}
			g.logger.Debug().Str("channel", ch.Name()).Str("lead_id", ev.LeadID).Msg("lead notification sent")
			return nil
		})
	}
	_ = group.Wait()
}

// Wait blocks until every dispatched event has been handled.
func (g *Gateway) Wait() {
	if g == nil {
		return
	}
	g.wg.Wait()
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
