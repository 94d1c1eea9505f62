package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cyderes/social-autopilot/internal/ai"
	"github.com/cyderes/social-autopilot/internal/autopublish"
	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/drafts"
	"github.com/cyderes/social-autopilot/internal/events"
	"github.com/cyderes/social-autopilot/internal/generator"
	"github.com/cyderes/social-autopilot/internal/logging"
	"github.com/cyderes/social-autopilot/internal/media"
	"github.com/cyderes/social-autopilot/internal/metricsync"
	"github.com/cyderes/social-autopilot/internal/platform"
	"github.com/cyderes/social-autopilot/internal/posts"
	"github.com/cyderes/social-autopilot/internal/publisher"
	"github.com/cyderes/social-autopilot/internal/retry"
	"github.com/cyderes/social-autopilot/internal/scoring"
	"github.com/cyderes/social-autopilot/internal/sniper"
	"github.com/cyderes/social-autopilot/internal/storage"
	"github.com/cyderes/social-autopilot/internal/telemetry"
)

// app holds every wired component of one process.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	metrics  *telemetry.Metrics
	store    storage.Storage
	bus      events.Bus
	registry *platform.Registry
	catalog  *sniper.Catalog
	drafts   *drafts.Service
	posts    *posts.Service
	sniper   *sniper.Scheduler
	syncer   *metricsync.Syncer
	autopub  *autopublish.AutoPublisher
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logCfg, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	return logging.NewLogger(logCfg)
}

// newApp loads configuration and builds the component graph.
func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, metrics: telemetry.NewMetrics()}

	a.store, err = storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.bus = events.Nop{}
	if cfg.Events.NATSURL != "" {
		bus, err := events.NewNATSBus(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.bus = bus
	}

	a.registry = platform.NewRegistry(cfg.Platforms, platform.OptionsFromConfig(cfg.Platforms))
	if err := a.loadConnections(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.catalog, err = sniper.LoadCatalog(cfg.Sniper.CatalogPath, log.Named("catalog"))
	if err != nil {
		a.Close()
		return nil, err
	}

	var text ai.TextGenerator = ai.Unconfigured{}
	var scorer scoring.Scorer = scoring.KeywordScorer{}
	if lc, err := ai.NewLangChainText(cfg.AI); err == nil {
		text = lc
		scorer = scoring.NewLLMScorer(lc)
	} else if errors.Is(err, ai.ErrNotConfigured) {
		log.Warn(ctx, "no text model configured, scoring by keywords and generation disabled")
	} else {
		a.Close()
		return nil, err
	}

	genOpts := []generator.Option{}
	if images, err := ai.NewImageClient(cfg.AI, nil); err == nil {
		genOpts = append(genOpts, generator.WithImages(images))
	} else if !errors.Is(err, ai.ErrNotConfigured) {
		a.Close()
		return nil, err
	}
	s3, err := media.NewS3Store(cfg.Media)
	if err != nil {
		a.Close()
		return nil, err
	}
	if s3 != nil {
		genOpts = append(genOpts, generator.WithMedia(s3))
	}
	gen := generator.New(text, log.Named("generator"), genOpts...)

	pub := publisher.New(a.registry, log.Named("publisher"), a.metrics)
	a.drafts = drafts.NewService(drafts.Dependencies{
		Store:       a.store,
		Publisher:   pub,
		Regenerator: gen,
		Campaigns:   a.catalog,
		Policy:      retry.NewPolicy(cfg.Retry),
		Threshold:   cfg.Scoring.Threshold,
		Bus:         a.bus,
		Metrics:     a.metrics,
		Logger:      log.Named("drafts"),
	})
	a.posts = posts.NewService(a.store, pub, a.bus, log.Named("posts"))

	state, err := sniper.NewState(ctx, cfg.State)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sniper = sniper.NewScheduler(sniper.Dependencies{
		Config:    cfg.Sniper,
		State:     state,
		Catalog:   a.catalog,
		Clients:   a.registry,
		Filter:    scoring.NewFilter(scorer, cfg.Scoring.Threshold),
		Generator: gen,
		Drafts:    a.drafts,
		Sources:   a.store,
		Metrics:   a.metrics,
		Logger:    log.Named("sniper"),
	})
	a.syncer = metricsync.New(a.store, a.registry, a.metrics, log.Named("metricsync"))
	a.autopub = autopublish.New(cfg.AutoPublish, a.drafts, log.Named("autopublish"))
	return a, nil
}

// loadConnections applies stored platform credentials over the config.
func (a *app) loadConnections(ctx context.Context) error {
	conns, err := a.store.ListConnections(ctx)
	if err != nil {
		return fmt.Errorf("loading platform connections: %w", err)
	}
	for _, c := range conns {
		if len(c.Credentials) == 0 {
			continue
		}
		if err := a.registry.Configure(c.Platform, c.Credentials); err != nil {
			a.log.Warn(ctx, "stored credentials incomplete",
				zap.String("platform", string(c.Platform)), zap.Error(err))
		}
	}
	return nil
}

// Close releases the broker and storage connections.
func (a *app) Close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn(context.Background(), "failed to close event bus", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn(context.Background(), "failed to close storage", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
