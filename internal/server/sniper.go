package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/sniper"
)

func (s *Server) sniperStatus(c echo.Context) error {
	st, err := s.sniper.Status(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) sniperCampaigns(c echo.Context) error {
	return c.JSON(http.StatusOK, s.sniper.Campaigns())
}

type selectRequest struct {
	Name string `json:"name"`
}

func bindName(c echo.Context) (string, error) {
	var req selectRequest
	if err := c.Bind(&req); err != nil {
		return "", err
	}
	if req.Name == "" {
		return "", models.Invalid("name", "is required")
	}
	return req.Name, nil
}

func (s *Server) setSniperCampaign(c echo.Context) error {
	name, err := bindName(c)
	if err != nil {
		return err
	}
	ct, err := s.sniper.SetCampaign(c.Request().Context(), name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ct)
}

func (s *Server) setSniperStrategy(c echo.Context) error {
	name, err := bindName(c)
	if err != nil {
		return err
	}
	st, err := s.sniper.SetStrategy(c.Request().Context(), name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

// pauseSniper and resumeSniper act on ?campaign=, defaulting to the active one.
func (s *Server) pauseSniper(c echo.Context) error {
	if err := s.sniper.Pause(c.Request().Context(), c.QueryParam("campaign")); err != nil {
		return err
	}
	return s.sniperStatus(c)
}

func (s *Server) resumeSniper(c echo.Context) error {
	if err := s.sniper.Resume(c.Request().Context(), c.QueryParam("campaign")); err != nil {
		return err
	}
	return s.sniperStatus(c)
}

func (s *Server) resetSniper(c echo.Context) error {
	if err := s.sniper.Reset(c.Request().Context()); err != nil {
		return err
	}
	return s.sniperStatus(c)
}

// forceHunt runs a hunt now. It answers 429 with the summary when the daily
// quota is used up.
func (s *Server) forceHunt(c echo.Context) error {
	res, err := s.sniper.Hunt(c.Request().Context(), true)
	if errors.Is(err, sniper.ErrQuotaExhausted) {
		return c.JSON(http.StatusTooManyRequests, map[string]interface{}{"error": err.Error(), "result": res})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) triggerMetricsSync(c echo.Context) error {
	res, err := s.syncer.Sync(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
