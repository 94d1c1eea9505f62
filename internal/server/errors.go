package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/cyderes/social-autopilot/internal/ai"
	"github.com/cyderes/social-autopilot/internal/drafts"
	"github.com/cyderes/social-autopilot/internal/generator"
	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/posts"
	"github.com/cyderes/social-autopilot/internal/retry"
	"github.com/cyderes/social-autopilot/internal/sniper"
	"github.com/cyderes/social-autopilot/internal/storage"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	// Draft is set when a publish attempt failed and moved the draft.
	Draft *models.Draft `json:"draft,omitempty"`
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		verr *models.ValidationError
		herr *echo.HTTPError
	)
	switch {
	case errors.As(err, &herr):
		return herr.Code
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, sniper.ErrUnknownCampaign),
		errors.Is(err, sniper.ErrUnknownStrategy):
		return http.StatusNotFound
	case errors.Is(err, ai.ErrNotConfigured), errors.Is(err, generator.ErrNoImageService):
		return http.StatusServiceUnavailable
	case errors.Is(err, sniper.ErrQuotaExhausted), retry.IsRateLimit(err):
		return http.StatusTooManyRequests
	case errors.Is(err, drafts.ErrInvalidTransition),
		errors.Is(err, drafts.ErrBelowThreshold),
		errors.Is(err, posts.ErrInvalidState),
		errors.Is(err, storage.ErrConflict),
		errors.Is(err, storage.ErrDuplicate),
		errors.Is(err, sniper.ErrHuntRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// publishFailed answers a failed publish attempt with the draft's new state.
func publishFailed(c echo.Context, d *models.Draft, err error) error {
	return c.JSON(statusFor(err), ErrorResponse{Error: err.Error(), Draft: d})
}

// handleError is the echo error handler.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := statusFor(err)
	body := ErrorResponse{Error: err.Error()}

	var (
		verr *models.ValidationError
		herr *echo.HTTPError
	)
	switch {
	case errors.As(err, &herr):
		if msg, ok := herr.Message.(string); ok {
			body.Error = msg
		} else {
			body.Error = http.StatusText(herr.Code)
		}
	case errors.As(err, &verr):
		body.Field = verr.Field
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		s.log.Error(c.Request().Context(), "failed to write error response", zap.Error(err))
	}
}
