package server

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/platform"
	"github.com/cyderes/social-autopilot/internal/storage"
)

// PlatformStatus is one row of the platform list.
type PlatformStatus struct {
	Platform     models.Platform         `json:"platform"`
	Configured   bool                    `json:"configured"`
	Missing      []string                `json:"missing,omitempty"`
	Credentials  []string                `json:"credentials,omitempty"`
	Status       models.ConnectionStatus `json:"status,omitempty"`
	LastError    string                  `json:"lastError,omitempty"`
	LastTestedAt *time.Time              `json:"lastTestedAt,omitempty"`
}

func (s *Server) platformParam(c echo.Context) (models.Platform, error) {
	p := models.Platform(c.Param("platform"))
	if !p.Valid() {
		return "", models.Invalid("platform", "unknown platform %q", p)
	}
	return p, nil
}

func (s *Server) listPlatforms(c echo.Context) error {
	ctx := c.Request().Context()
	out := make([]PlatformStatus, 0, len(models.AllPlatforms))
	for _, p := range models.AllPlatforms {
		row := PlatformStatus{Platform: p, Missing: s.platforms.Missing(p)}
		_, err := s.platforms.Get(p)
		row.Configured = err == nil
		conn, err := s.store.GetConnection(ctx, p)
		switch {
		case err == nil:
			row.Credentials = conn.CredentialKeys()
			sort.Strings(row.Credentials)
			row.Status = conn.Status
			row.LastError = conn.LastError
			row.LastTestedAt = conn.LastTestedAt
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
		out = append(out, row)
	}
	return c.JSON(http.StatusOK, out)
}

// configurePlatform stores credentials and rebuilds the client. Incomplete
// credentials are saved and answered with the missing names.
func (s *Server) configurePlatform(c echo.Context) error {
	p, err := s.platformParam(c)
	if err != nil {
		return err
	}
	var creds map[string]string
	if err := c.Bind(&creds); err != nil {
		return err
	}
	if len(creds) == 0 {
		return models.Invalid("credentials", "at least one credential is required")
	}

	ctx := c.Request().Context()
	conn, err := s.store.GetConnection(ctx, p)
	if errors.Is(err, storage.ErrNotFound) {
		conn = &models.PlatformConnection{Platform: p, Credentials: map[string]string{}}
	} else if err != nil {
		return err
	}
	if conn.Credentials == nil {
		conn.Credentials = map[string]string{}
	}

	cfgErr := s.platforms.Configure(p, creds)
	var setup *platform.SetupError
	if cfgErr != nil && !errors.As(cfgErr, &setup) {
		return models.Invalid("credentials", "%v", cfgErr)
	}
	for k, v := range creds {
		if v != "" {
			conn.Credentials[k] = v
		}
	}
	conn.Connected = cfgErr == nil
	conn.Status = models.ConnectionConnected
	if setup != nil {
		conn.Status = models.ConnectionNeedsSetup
	}
	conn.UpdatedAt = s.now().UTC()
	if err := s.store.UpsertConnection(ctx, conn); err != nil {
		return err
	}

	row := PlatformStatus{Platform: p, Configured: setup == nil, Status: conn.Status, Credentials: conn.CredentialKeys()}
	sort.Strings(row.Credentials)
	if setup != nil {
		row.Missing = setup.Missing
	}
	return c.JSON(http.StatusOK, row)
}

// TestResult is the answer of a connection test.
type TestResult struct {
	Platform models.Platform         `json:"platform"`
	Status   models.ConnectionStatus `json:"status"`
	Missing  []string                `json:"missing,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// testPlatform checks the credentials against the platform. Missing
// credentials are a needs_setup answer, not a failure.
func (s *Server) testPlatform(c echo.Context) error {
	p, err := s.platformParam(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	res := TestResult{Platform: p, Status: models.ConnectionConnected}

	client, err := s.platforms.Get(p)
	if err == nil {
		err = client.Test(ctx)
	}
	var setup *platform.SetupError
	switch {
	case errors.As(err, &setup):
		res.Status = models.ConnectionNeedsSetup
		res.Missing = setup.Missing
	case err != nil:
		res.Status = models.ConnectionError
		res.Error = err.Error()
	}

	now := s.now().UTC()
	conn, getErr := s.store.GetConnection(ctx, p)
	if getErr != nil {
		conn = &models.PlatformConnection{Platform: p}
	}
	conn.Status = res.Status
	conn.Connected = res.Status == models.ConnectionConnected
	conn.LastError = res.Error
	conn.LastTestedAt = &now
	conn.UpdatedAt = now
	if err := s.store.UpsertConnection(ctx, conn); err != nil {
		s.log.Warn(ctx, "failed to record connection test", zap.String("platform", string(p)), zap.Error(err))
	}

	if res.Status == models.ConnectionError && statusFor(err) == http.StatusTooManyRequests {
		return c.JSON(http.StatusTooManyRequests, res)
	}
	return c.JSON(http.StatusOK, res)
}
