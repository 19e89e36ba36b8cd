package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/leadscan/internal/leads"
)

type bulkStateRequest struct {
	IDs    []string `json:"ids"`
	Status string   `json:"status"`
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

type addNoteRequest struct {
	Content string `json:"content"`
	Author  string `json:"author"`
}

func (s *Server) handleListLeads(c echo.Context) error {
	ctx := c.Request().Context()

	status := strings.ToUpper(strings.TrimSpace(c.QueryParam("status")))
	if status != "" && status != "ALL" {
		if _, err := leads.ParseStatus(status); err != nil {
			return failValidation(c, map[string]string{"status": "must be ALL or one of NEW, CONTACTED, IN_PROGRESS, ON_HOLD, WON, LOST, EXCLUDED"})
		}
	}
	sortBy := strings.ToLower(strings.TrimSpace(c.QueryParam("sortBy")))
	if sortBy != "" && sortBy != leads.SortLatest && sortBy != leads.SortScore {
		return failValidation(c, map[string]string{"sortBy": "must be latest or score"})
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), leads.DefaultListLimit, 1, leads.MaxListLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	opts := leads.ListOptions{Status: status, SortBy: sortBy, Limit: limit}
	if status == string(leads.StatusNew) {
		cfg, err := s.settings.Load(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("load settings failed")
			return internalError(c, "Failed to list leads")
		}
		blocked, err := s.blocklist.Load(ctx, cfg.ExcludedCompanies, cfg.ActiveTemporaryExclusions(s.now()))
		if err != nil {
			s.logger.Error().Err(err).Msg("load blocklist failed")
			return internalError(c, "Failed to list leads")
		}
		opts.HideCompany = blocked.BlocksCompany
	}

	items, err := s.leads.List(ctx, opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("list leads failed")
		return internalError(c, "Failed to list leads")
	}
	counts, err := s.leads.Counts(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("count leads failed")
		return internalError(c, "Failed to list leads")
	}

	return success(c, map[string]any{
		"leads":  items,
		"total":  len(items),
		"counts": counts,
	})
}

func (s *Server) handleGetLead(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	lead, err := s.leads.Get(c.Request().Context(), id)
	if errors.Is(err, leads.ErrNotFound) {
		return failNotFound(c, "Lead not found")
	}
	if err != nil {
		s.logger.Error().Err(err).Str("lead_id", id).Msg("get lead failed")
		return internalError(c, "Failed to load lead")
	}
	return success(c, map[string]any{"lead": lead})
}

func (s *Server) handleDeleteLead(c echo.Context) error {
	ctx := c.Request().Context()
	id := strings.TrimSpace(c.Param("id"))

	exists, err := s.leads.HasState(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("lead_id", id).Msg("check lead failed")
		return internalError(c, "Failed to delete lead")
	}
	if !exists {
		return failNotFound(c, "Lead not found")
	}
	if err := s.leads.Delete(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("lead_id", id).Msg("delete lead failed")
		return internalError(c, "Failed to delete lead")
	}
	return success(c, map[string]any{"deleted": id})
}

func (s *Server) handleUpdateState(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))

	var patch leads.StatePatch
	if err := decodeJSONBody(c, &patch); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	state, err := s.leads.UpdateState(c.Request().Context(), id, patch)
	switch {
	case errors.Is(err, leads.ErrInvalidStatus):
		return failValidation(c, map[string]string{"status": err.Error()})
	case errors.Is(err, leads.ErrNotFound):
		return failNotFound(c, "Lead not found")
	case err != nil:
		s.logger.Error().Err(err).Str("lead_id", id).Msg("update lead state failed")
		return internalError(c, "Failed to update lead state")
	}
	return success(c, map[string]any{"state": state})
}

func (s *Server) handleBulkState(c echo.Context) error {
	var req bulkStateRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	updated, err := s.leads.BulkUpdateState(c.Request().Context(), req.IDs, req.Status)
	switch {
	case errors.Is(err, leads.ErrInvalidStatus):
		return failValidation(c, map[string]string{"status": err.Error()})
	case errors.Is(err, leads.ErrInvalidInput):
		return failValidation(c, map[string]string{"ids": "must be a non-empty array"})
	case err != nil:
		s.logger.Error().Err(err).Int("updated", updated).Msg("bulk state update failed")
		return internalError(c, "Failed to update leads")
	}
	return success(c, map[string]any{"updated": updated})
}

func (s *Server) handleBulkDelete(c echo.Context) error {
	var req bulkDeleteRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	deleted, err := s.leads.BulkDelete(c.Request().Context(), req.IDs)
	switch {
	case errors.Is(err, leads.ErrInvalidInput):
		return failValidation(c, map[string]string{"ids": "must be a non-empty array"})
	case err != nil:
		s.logger.Error().Err(err).Int("deleted", deleted).Msg("bulk delete failed")
		return internalError(c, "Failed to delete leads")
	}
	return success(c, map[string]any{"deleted": deleted})
}

func (s *Server) handleListNotes(c echo.Context) error {
	ctx := c.Request().Context()
	id := strings.TrimSpace(c.Param("id"))

	exists, err := s.leads.HasState(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("lead_id", id).Msg("check lead failed")
		return internalError(c, "Failed to list notes")
	}
	if !exists {
		return failNotFound(c, "Lead not found")
	}
	notes, err := s.leads.Notes(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("lead_id", id).Msg("list notes failed")
		return internalError(c, "Failed to list notes")
	}
	return success(c, map[string]any{"notes": notes})
}

func (s *Server) handleAddNote(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))

	var req addNoteRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	note, err := s.leads.AddNote(c.Request().Context(), id, req.Content, req.Author)
	switch {
	case errors.Is(err, leads.ErrInvalidInput):
		return failValidation(c, map[string]string{"content": "is required"})
	case errors.Is(err, leads.ErrNotFound):
		return failNotFound(c, "Lead not found")
	case err != nil:
		s.logger.Error().Err(err).Str("lead_id", id).Msg("add note failed")
		return internalError(c, "Failed to add note")
	}
	return successWithStatus(c, http.StatusCreated, map[string]any{"note": note})
}
