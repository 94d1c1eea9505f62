package sniper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/drafts"
	"github.com/cyderes/social-autopilot/internal/logging"
	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/platform"
	"github.com/cyderes/social-autopilot/internal/scoring"
	"github.com/cyderes/social-autopilot/internal/storage"
	"github.com/cyderes/social-autopilot/internal/telemetry"
)

var (
	// ErrHuntRunning is returned when a hunt is already in progress.
	ErrHuntRunning = errors.New("hunt already running")
	// ErrQuotaExhausted is returned when today's draft quota is used up.
	ErrQuotaExhausted = errors.New("daily draft quota exhausted")
	// ErrUnknownStrategy is returned for strategies the campaign does not define.
	ErrUnknownStrategy = errors.New("unknown strategy")
)

// Clients resolves platform clients.
type Clients interface {
	Get(p models.Platform) (platform.Client, error)
}

// Generator builds a draft for an accepted candidate.
type Generator interface {
	Generate(ctx context.Context, c models.Candidate, campaign models.CampaignType, strategy models.Strategy, score int) (*models.Draft, error)
}

// DraftCreator persists drafts.
type DraftCreator interface {
	Create(ctx context.Context, d *models.Draft) error
}

// SourceLookup finds existing drafts by source message.
type SourceLookup interface {
	GetDraftBySource(ctx context.Context, sourceMessageID string) (*models.Draft, error)
}

// HuntResult summarizes one hunt pass.
type HuntResult struct {
	Campaign       string    `json:"campaign"`
	Strategy       string    `json:"strategy"`
	Forced         bool      `json:"forced"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	Searched       int       `json:"searched"`
	Duplicates     int       `json:"duplicates"`
	Scored         int       `json:"scored"`
	BelowThreshold int       `json:"belowThreshold"`
	Created        int       `json:"created"`
	Skipped        string    `json:"skipped,omitempty"`
	Errors         []string  `json:"errors,omitempty"`
}

// Status is the scheduler snapshot shown on the dashboard.
type Status struct {
	Enabled    bool        `json:"enabled"`
	Running    bool        `json:"running"`
	Campaign   string      `json:"campaign"`
	Strategy   string      `json:"strategy"`
	Paused     bool        `json:"paused"`
	DailyCount int         `json:"dailyCount"`
	DailyQuota int         `json:"dailyQuota"`
	Threshold  int         `json:"threshold"`
	Interval   string      `json:"interval"`
	LastRun    *HuntResult `json:"lastRun,omitempty"`
}

// Dependencies wires a Scheduler.
type Dependencies struct {
	Config    config.SniperConfig
	State     State
	Catalog   *Catalog
	Clients   Clients
	Filter    *scoring.Filter
	Generator Generator
	Drafts    DraftCreator
	Sources   SourceLookup
	Metrics   *telemetry.Metrics
	Logger    *logging.Logger
	Now       func() time.Time
}

// Scheduler runs hunt passes on a ticker or on demand.
type Scheduler struct {
	cfg     config.SniperConfig
	state   State
	catalog *Catalog
	clients Clients
	filter  *scoring.Filter
	gen     Generator
	drafts  DraftCreator
	sources SourceLookup
	metrics *telemetry.Metrics
	log     *logging.Logger
	now     func() time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(d Dependencies) *Scheduler {
	s := &Scheduler{
		cfg:     d.Config,
		state:   d.State,
		catalog: d.Catalog,
		clients: d.Clients,
		filter:  d.Filter,
		gen:     d.Generator,
		drafts:  d.Drafts,
		sources: d.Sources,
		metrics: d.Metrics,
		log:     d.Logger,
		now:     d.Now,
	}
	if s.state == nil {
		s.state = NewMemoryState()
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start runs a hunt immediately and then every configured interval until ctx
// is done. Hunt errors are logged and do not stop the loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.Hunt(ctx, false)
	switch {
	case errors.Is(err, ErrHuntRunning), errors.Is(err, ErrQuotaExhausted):
		s.log.Info(ctx, "hunt skipped", zap.Error(err))
	case err != nil:
		s.log.Error(ctx, "hunt failed", zap.Error(err))
	case res.Skipped != "":
		s.log.Debug(ctx, "hunt skipped", zap.String("reason", res.Skipped))
	}
}

func day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// selection returns the active campaign type and strategy, falling back to
// the configured defaults and then to the catalog's first entries.
func (s *Scheduler) selection(ctx context.Context) (models.CampaignType, models.Strategy, error) {
	name, strat, err := s.state.Active(ctx)
	if err != nil {
		return models.CampaignType{}, models.Strategy{}, fmt.Errorf("reading active campaign: %w", err)
	}
	if name == "" {
		name = s.cfg.DefaultCampaign
	}
	if strat == "" {
		strat = s.cfg.DefaultStrategy
	}

	campaign, ok := s.catalog.Lookup(name)
	if !ok {
		if name != "" && name != s.cfg.DefaultCampaign {
			return models.CampaignType{}, models.Strategy{}, fmt.Errorf("%w: %s", ErrUnknownCampaign, name)
		}
		campaign = s.catalog.First()
	}
	strategy, ok := campaign.Strategy(strat)
	if !ok {
		strategy = campaign.Strategies[0]
	}
	return campaign, strategy, nil
}

// Hunt runs one pass: search every keyword of the active campaign on its
// platforms, score each new candidate, and create drafts for those above the
// threshold until the daily quota is reached. Per-candidate failures are
// collected in the result. While the campaign is paused the pass is a no-op.
// A forced hunt runs even when scheduled hunting is disabled.
func (s *Scheduler) Hunt(ctx context.Context, force bool) (*HuntResult, error) {
	locked, err := s.state.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, ErrHuntRunning
	}
	defer func() {
		if err := s.state.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.log.Error(ctx, "failed to release hunt lock", zap.Error(err))
		}
	}()

	campaign, strategy, err := s.selection(ctx)
	if err != nil {
		return nil, err
	}
	res := &HuntResult{Campaign: campaign.Name, Strategy: strategy.Name, Forced: force, StartedAt: s.now().UTC()}
	if !force && !s.cfg.Enabled {
		res.Skipped = "disabled"
		res.FinishedAt = res.StartedAt
		return res, nil
	}

	paused, err := s.state.Paused(ctx, campaign.Name)
	if err != nil {
		return nil, fmt.Errorf("reading pause flag: %w", err)
	}
	if paused {
		res.Skipped = "paused"
		res.FinishedAt = s.now().UTC()
		return res, nil
	}

	today := day(res.StartedAt)
	count, err := s.state.DailyCount(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("reading daily counter: %w", err)
	}
	if count >= s.cfg.DailyQuota {
		res.Skipped = "quota"
		res.FinishedAt = s.now().UTC()
		s.metrics.Discarded("quota")
		return res, fmt.Errorf("%d of %d drafts created today: %w", count, s.cfg.DailyQuota, ErrQuotaExhausted)
	}
	remaining := s.cfg.DailyQuota - count

	s.log.Info(ctx, "hunt started",
		zap.String("campaign", campaign.Name),
		zap.String("strategy", strategy.Name),
		zap.Int("remaining_quota", remaining))

	seen := make(map[string]bool)
	for _, pl := range campaign.Platforms {
		if remaining == 0 {
			break
		}
		client, err := s.clients.Get(pl)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", pl, err))
			continue
		}
		for _, kw := range campaign.Keywords {
			if remaining == 0 {
				break
			}
			found, err := client.Search(ctx, kw, s.cfg.SearchLimit)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s search %q: %v", pl, kw, err))
				continue
			}
			for _, c := range found {
				if remaining == 0 {
					break
				}
				if seen[c.MessageID] {
					continue
				}
				seen[c.MessageID] = true
				res.Searched++
				if s.process(ctx, c, campaign, strategy, res) {
					remaining--
					if _, err := s.state.IncrDaily(ctx, today); err != nil {
						res.Errors = append(res.Errors, fmt.Sprintf("daily counter: %v", err))
					}
				}
			}
		}
	}
	if remaining == 0 {
		res.Skipped = "quota"
	}

	res.FinishedAt = s.now().UTC()
	s.metrics.ObserveHunt(res.FinishedAt.Sub(res.StartedAt).Seconds())
	if err := s.state.SetLastRun(ctx, *res); err != nil {
		s.log.Warn(ctx, "failed to store hunt result", zap.Error(err))
	}
	s.log.Info(ctx, "hunt finished",
		zap.Int("searched", res.Searched),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("below_threshold", res.BelowThreshold),
		zap.Int("created", res.Created),
		zap.Int("errors", len(res.Errors)))
	return res, nil
}

// process handles one candidate and reports whether a draft was created.
func (s *Scheduler) process(ctx context.Context, c models.Candidate, campaign models.CampaignType, strategy models.Strategy, res *HuntResult) bool {
	if _, err := s.sources.GetDraftBySource(ctx, c.MessageID); err == nil {
		res.Duplicates++
		s.metrics.Discarded("duplicate")
		return false
	} else if !errors.Is(err, storage.ErrNotFound) {
		res.Errors = append(res.Errors, fmt.Sprintf("lookup %s: %v", c.MessageID, err))
		return false
	}

	score, ok, err := s.filter.Evaluate(ctx, c, campaign)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("score %s: %v", c.MessageID, err))
		s.metrics.Discarded("error")
		return false
	}
	res.Scored++
	if !ok {
		res.BelowThreshold++
		s.metrics.Discarded("below_threshold")
		return false
	}

	d, err := s.gen.Generate(ctx, c, campaign, strategy, score)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("generate %s: %v", c.MessageID, err))
		s.metrics.Discarded("error")
		return false
	}
	if err := s.drafts.Create(ctx, d); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			res.Duplicates++
			s.metrics.Discarded("duplicate")
			return false
		}
		if errors.Is(err, drafts.ErrBelowThreshold) {
			res.BelowThreshold++
			return false
		}
		res.Errors = append(res.Errors, fmt.Sprintf("create %s: %v", c.MessageID, err))
		return false
	}
	res.Created++
	return true
}

// Pause stops hunting for campaign; empty means the active campaign.
func (s *Scheduler) Pause(ctx context.Context, campaign string) error {
	return s.setPaused(ctx, campaign, true)
}

// Resume re-enables hunting for campaign; empty means the active campaign.
func (s *Scheduler) Resume(ctx context.Context, campaign string) error {
	return s.setPaused(ctx, campaign, false)
}

func (s *Scheduler) setPaused(ctx context.Context, campaign string, paused bool) error {
	if campaign == "" {
		ct, _, err := s.selection(ctx)
		if err != nil {
			return err
		}
		campaign = ct.Name
	} else if _, ok := s.catalog.Lookup(campaign); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCampaign, campaign)
	}
	return s.state.SetPaused(ctx, campaign, paused)
}

// Reset clears a stuck running flag.
func (s *Scheduler) Reset(ctx context.Context) error {
	if err := s.state.ForceUnlock(ctx); err != nil {
		return fmt.Errorf("resetting hunt lock: %w", err)
	}
	s.log.Warn(ctx, "hunt lock reset")
	return nil
}

// SetCampaign selects the campaign type for later hunts and resets the
// strategy to the campaign's first.
func (s *Scheduler) SetCampaign(ctx context.Context, name string) (models.CampaignType, error) {
	ct, ok := s.catalog.Lookup(name)
	if !ok {
		return models.CampaignType{}, fmt.Errorf("%w: %s", ErrUnknownCampaign, name)
	}
	if err := s.state.SetActive(ctx, ct.Name, ct.Strategies[0].Name); err != nil {
		return models.CampaignType{}, err
	}
	return ct, nil
}

// SetStrategy selects a strategy of the active campaign.
func (s *Scheduler) SetStrategy(ctx context.Context, name string) (models.Strategy, error) {
	ct, _, err := s.selection(ctx)
	if err != nil {
		return models.Strategy{}, err
	}
	st, ok := ct.Strategy(name)
	if !ok || name == "" {
		return models.Strategy{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	if err := s.state.SetActive(ctx, ct.Name, st.Name); err != nil {
		return models.Strategy{}, err
	}
	return st, nil
}

// Campaigns lists the catalog.
func (s *Scheduler) Campaigns() []models.CampaignType {
	return s.catalog.List()
}

// Status returns the scheduler snapshot.
func (s *Scheduler) Status(ctx context.Context) (*Status, error) {
	ct, st, err := s.selection(ctx)
	if err != nil {
		return nil, err
	}
	running, err := s.state.Running(ctx)
	if err != nil {
		return nil, err
	}
	paused, err := s.state.Paused(ctx, ct.Name)
	if err != nil {
		return nil, err
	}
	count, err := s.state.DailyCount(ctx, day(s.now()))
	if err != nil {
		return nil, err
	}
	last, err := s.state.LastRun(ctx)
	if err != nil {
		return nil, err
	}
	threshold := 0
	if s.filter != nil {
		threshold = s.filter.Threshold()
	}
	return &Status{
		Enabled:    s.cfg.Enabled,
		Running:    running,
		Campaign:   ct.Name,
		Strategy:   st.Name,
		Paused:     paused,
		DailyCount: count,
		DailyQuota: s.cfg.DailyQuota,
		Threshold:  threshold,
		Interval:   s.cfg.Interval.String(),
		LastRun:    last,
	}, nil
}
