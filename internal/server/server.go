// Package server exposes the dashboard API over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/drafts"
	"github.com/cyderes/social-autopilot/internal/logging"
	"github.com/cyderes/social-autopilot/internal/metricsync"
	"github.com/cyderes/social-autopilot/internal/platform"
	"github.com/cyderes/social-autopilot/internal/posts"
	"github.com/cyderes/social-autopilot/internal/sniper"
	"github.com/cyderes/social-autopilot/internal/storage"
	"github.com/cyderes/social-autopilot/internal/telemetry"
)

// Dependencies wires the handlers to the services.
type Dependencies struct {
	Config    config.ServerConfig
	Store     storage.Storage
	Drafts    *drafts.Service
	Posts     *posts.Service
	Sniper    *sniper.Scheduler
	Syncer    *metricsync.Syncer
	Platforms *platform.Registry
	Metrics   *telemetry.Metrics
	Logger    *logging.Logger
}

// Server handles HTTP requests.
type Server struct {
	cfg       config.ServerConfig
	echo      *echo.Echo
	store     storage.Storage
	drafts    *drafts.Service
	posts     *posts.Service
	sniper    *sniper.Scheduler
	syncer    *metricsync.Syncer
	platforms *platform.Registry
	metrics   *telemetry.Metrics
	log       *logging.Logger
	now       func() time.Time
}

// New creates a Server with every route registered.
func New(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	s := &Server{
		cfg:       d.Config,
		store:     d.Store,
		drafts:    d.Drafts,
		posts:     d.Posts,
		sniper:    d.Sniper,
		syncer:    d.Syncer,
		platforms: d.Platforms,
		metrics:   d.Metrics,
		log:       d.Logger,
		now:       time.Now,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Server.ReadTimeout = d.Config.ReadTimeout
	e.Server.WriteTimeout = d.Config.WriteTimeout

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.accessLog)
	s.echo = e

	s.registerRoutes()
	return s
}

// accessLog logs each request and counts it by route pattern.
func (s *Server) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		reqID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), reqID)
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)
		if err != nil {
			// Resolve the status before logging it.
			c.Error(err)
		}

		status := c.Response().Status
		s.metrics.HTTPRequest(c.Request().Method, c.Path(), status)
		fields := []zap.Field{
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			s.log.Error(ctx, "http request", append(fields, zap.Error(err))...)
		} else {
			s.log.Info(ctx, "http request", fields...)
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")

	api.GET("/posts", s.listPosts)
	api.POST("/posts", s.createPost)
	api.GET("/posts/:id", s.getPost)
	api.PUT("/posts/:id", s.updatePost)
	api.DELETE("/posts/:id", s.deletePost)
	api.POST("/posts/:id/publish", s.publishPost)

	api.GET("/campaigns", s.listCampaigns)
	api.POST("/campaigns", s.createCampaign)
	api.GET("/campaigns/:id", s.getCampaign)
	api.PUT("/campaigns/:id", s.updateCampaign)
	api.DELETE("/campaigns/:id", s.deleteCampaign)
	api.GET("/campaigns/:id/posts", s.campaignPosts)
	api.POST("/campaigns/:id/launch", s.launchCampaign)
	api.POST("/campaigns/:id/pause", s.pauseCampaign)

	api.GET("/platforms", s.listPlatforms)
	api.PUT("/platforms/:platform", s.configurePlatform)
	api.POST("/platforms/:platform/test", s.testPlatform)

	d := api.Group("/postcard-drafts")
	d.GET("", s.listDrafts)
	d.GET("/top", s.topDrafts)
	d.POST("/bulk-approve", s.bulkApprove)
	d.POST("/cleanup", s.cleanupDrafts)
	d.GET("/:id", s.getDraft)
	d.DELETE("/:id", s.deleteDraft)
	d.POST("/:id/approve", s.approveDraft)
	d.POST("/:id/reject", s.rejectDraft)
	d.POST("/:id/retry", s.retryDraft)
	d.POST("/:id/regenerate-text", s.regenerateText)
	d.POST("/:id/regenerate-image", s.regenerateImage)

	sn := api.Group("/sniper")
	sn.GET("/status", s.sniperStatus)
	sn.GET("/campaigns", s.sniperCampaigns)
	sn.PUT("/campaign", s.setSniperCampaign)
	sn.PUT("/strategy", s.setSniperStrategy)
	sn.POST("/pause", s.pauseSniper)
	sn.POST("/resume", s.resumeSniper)
	sn.POST("/reset", s.resetSniper)
	sn.POST("/hunt", s.forceHunt)

	api.GET("/analytics/summary", s.analyticsSummary)
	api.POST("/metrics-sync", s.triggerMetricsSync)
}

// Handler returns the HTTP handler, for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on the configured address until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.log.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// handleHealth reports liveness and storage reachability.
func (s *Server) handleHealth(c echo.Context) error {
	status, code := "healthy", http.StatusOK
	body := map[string]string{"time": s.now().UTC().Format(time.RFC3339)}
	if err := s.store.Ping(c.Request().Context()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
		body["storage"] = err.Error()
	}
	body["status"] = status
	return c.JSON(code, body)
}
