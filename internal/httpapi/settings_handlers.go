package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/leadscan/internal/settings"
	"horse.fit/leadscan/internal/sources"
)

type testFeedRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleGetConfig(c echo.Context) error {
	cfg, err := s.settings.Load(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("load settings failed")
		return internalError(c, "Failed to load settings")
	}
	return success(c, map[string]any{"config": cfg.Masked()})
}

func (s *Server) handleUpdateConfig(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	update, err := settings.ParseUpdate(body)
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	saved, err := s.settings.Apply(c.Request().Context(), update, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("save settings failed")
		return internalError(c, "Failed to save settings")
	}
	s.logger.Info().
		Int("keywords", len(saved.Keywords)).
		Int("feeds", len(saved.RSSFeeds)).
		Int("excluded_companies", len(saved.ExcludedCompanies)).
		Msg("settings updated")
	return success(c, map[string]any{"config": saved.Masked()})
}

// handleListBlocked lists the companies blocked in the store, which includes
// those blocked by excluding one of their leads.
func (s *Server) handleListBlocked(c echo.Context) error {
	active, err := s.blocklist.Active(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list blocked companies failed")
		return internalError(c, "Failed to list blocked companies")
	}
	return success(c, map[string]any{"blocked": active})
}

func (s *Server) handleUnblock(c echo.Context) error {
	company, err := url.PathUnescape(c.Param("company"))
	if err != nil || strings.TrimSpace(company) == "" {
		return failValidation(c, map[string]string{"company": "is required"})
	}

	if err := s.blocklist.Unblock(c.Request().Context(), company); err != nil {
		s.logger.Error().Err(err).Str("company", company).Msg("unblock company failed")
		return internalError(c, "Failed to unblock company")
	}
	s.logger.Info().Str("company", company).Msg("company unblocked")
	return success(c, map[string]any{"unblocked": strings.TrimSpace(company)})
}

func (s *Server) handleTestFeed(c echo.Context) error {
	var req testFeedRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	if strings.TrimSpace(req.URL) == "" {
		return failValidation(c, map[string]string{"url": "is required"})
	}

	found, err := s.probeFeed(c.Request().Context(), strings.TrimSpace(req.URL))
	switch {
	case errors.Is(err, sources.ErrInvalidFeedURL):
		return failValidation(c, map[string]string{"url": "must be an absolute http(s) URL"})
	case errors.Is(err, sources.ErrNoFeedFound):
		return fail(c, http.StatusUnprocessableEntity, "No RSS or Atom feed found at this address", nil)
	case err != nil:
		s.logger.Warn().Err(err).Str("url", req.URL).Msg("feed test failed")
		return fail(c, http.StatusBadGateway, "Feed could not be fetched", nil)
	}
	return success(c, found)
}
