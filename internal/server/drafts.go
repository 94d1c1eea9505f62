package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/cyderes/social-autopilot/internal/drafts"
	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/storage"
)

func (s *Server) listDrafts(c echo.Context) error {
	limit, offset := pageParams(c)
	f := storage.DraftFilter{
		CampaignType: c.QueryParam("campaignType"),
		OrderByScore: c.QueryParam("sort") == "score",
		Limit:        limit,
		Offset:       offset,
	}
	if raw := c.QueryParam("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			status := models.DraftStatus(strings.TrimSpace(st))
			if !status.Valid() {
				return models.Invalid("status", "unknown draft status %q", status)
			}
			f.Statuses = append(f.Statuses, status)
		}
	}
	if raw := c.QueryParam("minScore"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return models.Invalid("minScore", "must be an integer")
		}
		f.MinScore = n
	}
	list, err := s.drafts.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"drafts":    list,
		"count":     len(list),
		"threshold": s.drafts.Threshold(),
	})
}

func (s *Server) topDrafts(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	list, err := s.drafts.Top(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) getDraft(c echo.Context) error {
	d, err := s.drafts.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) deleteDraft(c echo.Context) error {
	if err := s.drafts.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// publishAction runs approve or retry and reports a failed attempt with the
// draft's new status.
func (s *Server) publishAction(c echo.Context, action func(context.Context, string) (*models.Draft, error)) error {
	d, err := action(c.Request().Context(), c.Param("id"))
	var perr *drafts.PublishError
	if errors.As(err, &perr) || errors.Is(err, drafts.ErrHistoryNotRecorded) {
		return publishFailed(c, d, err)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) approveDraft(c echo.Context) error {
	return s.publishAction(c, s.drafts.Approve)
}

func (s *Server) retryDraft(c echo.Context) error {
	return s.publishAction(c, s.drafts.Retry)
}

func (s *Server) rejectDraft(c echo.Context) error {
	d, err := s.drafts.Reject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) regenerateText(c echo.Context) error {
	d, err := s.drafts.RegenerateText(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) regenerateImage(c echo.Context) error {
	d, err := s.drafts.RegenerateImage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

type bulkRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) bulkApprove(c echo.Context) error {
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if len(req.IDs) == 0 {
		return models.Invalid("ids", "at least one draft id is required")
	}
	return c.JSON(http.StatusOK, s.drafts.BulkApprove(c.Request().Context(), req.IDs))
}

type cleanupRequest struct {
	Below int `json:"below"`
}

func (s *Server) cleanupDrafts(c echo.Context) error {
	var req cleanupRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Below < 0 || req.Below > 100 {
		return models.Invalid("below", "must be within 0..100")
	}
	n, err := s.drafts.Cleanup(c.Request().Context(), req.Below)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"deleted": n})
}
