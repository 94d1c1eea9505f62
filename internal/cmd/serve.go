package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cyderes/social-autopilot/internal/server"
	"github.com/cyderes/social-autopilot/internal/storage"
)

const (
	dispatchInterval = time.Minute
	shutdownTimeout  = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and background loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := newApp(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	httpServer := server.New(server.Dependencies{
		Config:    a.cfg.Server,
		Store:     a.store,
		Drafts:    a.drafts,
		Posts:     a.posts,
		Sniper:    a.sniper,
		Syncer:    a.syncer,
		Platforms: a.registry,
		Metrics:   a.metrics,
		Logger:    log.Named("http"),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var wg sync.WaitGroup
	loop := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info(ctx, "starting background loop", zap.String("loop", name))
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(ctx, "background loop stopped", zap.String("loop", name), zap.Error(err))
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	if err := a.catalog.Watch(ctx); err != nil {
		log.Warn(ctx, "catalog hot reload disabled", zap.Error(err))
	}
	if a.cfg.Sniper.Enabled {
		loop("sniper", a.sniper.Start)
	}
	loop("autopublish", a.autopub.Run)
	if a.cfg.Metrics.Enabled {
		loop("metrics-sync", func(ctx context.Context) error { return a.syncer.Run(ctx, a.cfg.Metrics.Interval) })
	}
	loop("post-dispatch", func(ctx context.Context) error { return a.posts.Run(ctx, dispatchInterval) })
	wg.Add(1)
	go func() {
		defer wg.Done()
		storage.KeepAlive(ctx, a.store, a.cfg.Storage.KeepAliveInterval, func(err error) {
			log.Warn(ctx, "storage keep-alive ping failed", zap.Error(err))
		})
	}()

	var runErr error
	select {
	case <-sigChan:
		log.Info(ctx, "shutdown signal received, gracefully shutting down")
	case <-ctx.Done():
	case runErr = <-serverErr:
		if runErr != nil {
			log.Error(ctx, "HTTP server error", zap.Error(runErr))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "HTTP server shutdown error", zap.Error(err))
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn(shutdownCtx, "background loops did not stop before the shutdown deadline")
	}
	log.Info(shutdownCtx, "shutdown complete")
	return runErr
}
