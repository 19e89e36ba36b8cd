package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/leadscan/internal/blocklist"
	"horse.fit/leadscan/internal/globaltime"
	"horse.fit/leadscan/internal/kv"
	"horse.fit/leadscan/internal/leads"
	"horse.fit/leadscan/internal/pipeline"
	"horse.fit/leadscan/internal/settings"
	"horse.fit/leadscan/internal/sources"
)

const maxBodyBytes = 1 << 20

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// AllowOrigins defaults to every origin.
	AllowOrigins []string
}

// Pipeline runs the two discovery entry points.
type Pipeline interface {
	RunCron(ctx context.Context, opts pipeline.CronOptions) (pipeline.CronResult, error)
	Scan(ctx context.Context, opts pipeline.ScanOptions) (pipeline.ScanResult, error)
}

// QueueStats reports the cron work queue size.
type QueueStats interface {
	Len(ctx context.Context) (int64, error)
	DeadLetters(ctx context.Context) (int64, error)
}

// FeedProbe resolves a site or feed URL to a parsable feed.
type FeedProbe func(ctx context.Context, rawURL string) (sources.Discovery, error)

type Deps struct {
	Store     kv.Store
	Pipeline  Pipeline
	Queue     QueueStats
	Leads     *leads.Store
	Settings  *settings.Store
	Blocklist *blocklist.Store
	// FeedProbe defaults to sources.DiscoverFeed with the default client.
	FeedProbe FeedProbe
	Now       func() time.Time
}

type Server struct {
	store     kv.Store
	pipeline  Pipeline
	queue     QueueStats
	leads     *leads.Store
	settings  *settings.Store
	blocklist *blocklist.Store
	probeFeed FeedProbe
	now       func() time.Time
	logger    zerolog.Logger
	opts      Options
}

func NewServer(deps Deps, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		// A scan call may spend its whole budget before answering.
		writeTimeout = 90 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	allowOrigins := opts.AllowOrigins
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}

	probe := deps.FeedProbe
	if probe == nil {
		probe = func(ctx context.Context, rawURL string) (sources.Discovery, error) {
			return sources.DiscoverFeed(ctx, nil, rawURL)
		}
	}
	now := deps.Now
	if now == nil {
		now = globaltime.Now
	}

	return &Server{
		store:     deps.Store,
		pipeline:  deps.Pipeline,
		queue:     deps.Queue,
		leads:     deps.Leads,
		settings:  deps.Settings,
		blocklist: deps.Blocklist,
		probeFeed: probe,
		now:       now,
		logger:    logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			AllowOrigins:    allowOrigins,
		},
	}
}

// Handler builds the Echo router with middleware and every API route.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)

	api.GET("/scan/cron", s.handleCronScan)
	api.POST("/scan", s.handleScan)
	api.GET("/scan/queue", s.handleQueue)

	api.GET("/leads", s.handleListLeads)
	api.POST("/leads/bulk-state", s.handleBulkState)
	api.POST("/leads/bulk-delete", s.handleBulkDelete)
	api.GET("/leads/:id", s.handleGetLead)
	api.DELETE("/leads/:id", s.handleDeleteLead)
	api.PATCH("/leads/:id/state", s.handleUpdateState)
	api.GET("/leads/:id/notes", s.handleListNotes)
	api.POST("/leads/:id/notes", s.handleAddNote)

	api.GET("/config", s.handleGetConfig)
	api.POST("/config", s.handleUpdateConfig)
	api.POST("/config/test-feed", s.handleTestFeed)
	api.GET("/config/blocked-companies", s.handleListBlocked)
	api.DELETE("/config/blocked-companies/:company", s.handleUnblock)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.store == nil || s.pipeline == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("leadscan api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("leadscan api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		s.logger.Error().Err(err).Str("uri", c.Request().RequestURI).Msg("unhandled handler error")
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.store.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("store ping failed")
		return unavailable(c, "Store unavailable")
	}
	return success(c, map[string]any{
		"service": "leadscan",
		"time":    globaltime.UTC(),
	})
}

// parseOptionalInt returns nil for an empty value.
func parseOptionalInt(raw string, minValue, maxValue int) (*int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return nil, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return &value, nil
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	value, err := parseOptionalInt(raw, minValue, maxValue)
	if err != nil {
		return 0, err
	}
	if value == nil {
		return defaultValue, nil
	}
	return *value, nil
}
