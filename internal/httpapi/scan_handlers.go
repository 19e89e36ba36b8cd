package httpapi

import (
	"errors"

	"github.com/labstack/echo/v4"

	"horse.fit/leadscan/internal/pipeline"
)

func (s *Server) handleCronScan(c echo.Context) error {
	minScore, err := parseOptionalInt(c.QueryParam("minScore"), 0, 100)
	if err != nil {
		return failValidation(c, map[string]string{"minScore": err.Error()})
	}

	res, err := s.pipeline.RunCron(c.Request().Context(), pipeline.CronOptions{MinScore: minScore})
	if err != nil {
		s.logger.Error().Err(err).Msg("cron tick failed")
		return internalError(c, "Cron scan failed")
	}
	return success(c, res)
}

func (s *Server) handleScan(c echo.Context) error {
	fieldErrors := map[string]string{}
	intParam := func(name string, maxValue int) int {
		value, err := parsePositiveInt(c.QueryParam(name), 0, 0, maxValue)
		if err != nil {
			fieldErrors[name] = err.Error()
		}
		return value
	}

	opts := pipeline.ScanOptions{
		// Larger limits are clamped by the pipeline.
		Limit:        intParam("limit", 10000),
		Cursor:       c.QueryParam("cursor"),
		BatchSize:    intParam("batchSize", 100),
		FeedLimit:    intParam("feedLimit", 100),
		Days:         intParam("days", 365),
		AnalyzeLimit: intParam("analyzeLimit", 10000),
	}
	minScore, err := parseOptionalInt(c.QueryParam("minScore"), 0, 100)
	if err != nil {
		fieldErrors["minScore"] = err.Error()
	}
	opts.MinScore = minScore
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	res, err := s.pipeline.Scan(c.Request().Context(), opts)
	switch {
	case errors.Is(err, pipeline.ErrUnknownCursor):
		return failNotFound(c, "Scan cursor not found or expired")
	case errors.Is(err, pipeline.ErrInvalidScanArgs):
		return failValidation(c, map[string]string{"query": err.Error()})
	case err != nil:
		s.logger.Error().Err(err).Str("cursor", opts.Cursor).Msg("scan failed")
		return internalError(c, "Scan failed")
	}
	return success(c, res)
}

func (s *Server) handleQueue(c echo.Context) error {
	ctx := c.Request().Context()
	length, err := s.queue.Len(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("read queue length failed")
		return internalError(c, "Failed to read queue")
	}
	dead, err := s.queue.DeadLetters(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("read dead letters failed")
		return internalError(c, "Failed to read queue")
	}
	return success(c, map[string]any{
		"queueLength": length,
		"deadLetters": dead,
	})
}
