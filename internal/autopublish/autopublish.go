// Package autopublish approves high-scoring drafts without human review and
// drives scheduled retries of rate-limited drafts.
package autopublish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/drafts"
	"github.com/cyderes/social-autopilot/internal/logging"
	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/storage"
)

// Drafts is the subset of the drafts service the auto-publisher drives.
type Drafts interface {
	List(ctx context.Context, f storage.DraftFilter) ([]models.Draft, error)
	DueRetries(ctx context.Context, now time.Time) ([]models.Draft, error)
	Approve(ctx context.Context, id string) (*models.Draft, error)
	Retry(ctx context.Context, id string) (*models.Draft, error)
}

// Summary reports one pass.
type Summary struct {
	Approved  int      `json:"approved"`
	Retried   int      `json:"retried"`
	Published int      `json:"published"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// AutoPublisher publishes drafts on a ticker.
type AutoPublisher struct {
	cfg     config.AutoPublishConfig
	drafts  Drafts
	limiter *rate.Limiter
	log     *logging.Logger
	now     func() time.Time
}

// New creates an AutoPublisher. Publishes are spaced by cfg.PublishDelay.
func New(cfg config.AutoPublishConfig, d Drafts, log *logging.Logger) *AutoPublisher {
	if log == nil {
		log = logging.Nop()
	}
	limit := rate.Inf
	if cfg.PublishDelay > 0 {
		limit = rate.Every(cfg.PublishDelay)
	}
	return &AutoPublisher{
		cfg:     cfg,
		drafts:  d,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		now:     time.Now,
	}
}

// Run executes a pass every interval until ctx is done.
func (a *AutoPublisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sum, err := a.RunOnce(ctx)
			if err != nil {
				a.log.Error(ctx, "auto-publish pass failed", zap.Error(err))
				continue
			}
			if sum.Approved+sum.Retried > 0 {
				a.log.Info(ctx, "auto-publish pass finished",
					zap.Int("approved", sum.Approved),
					zap.Int("retried", sum.Retried),
					zap.Int("published", sum.Published),
					zap.Int("failed", sum.Failed))
			}
		}
	}
}

// RunOnce approves up to BatchSize pending_review drafts scoring at least
// MinScore, then retries pending_retry drafts whose retry time has passed.
// Approval of new drafts is skipped when auto-publishing is disabled; due
// retries are always driven.
func (a *AutoPublisher) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary

	if a.cfg.Enabled {
		batch, err := a.drafts.List(ctx, storage.DraftFilter{
			Statuses:     []models.DraftStatus{models.DraftPendingReview},
			MinScore:     a.cfg.MinScore,
			OrderByScore: true,
			Limit:        a.cfg.BatchSize,
		})
		if err != nil {
			return sum, fmt.Errorf("listing drafts to approve: %w", err)
		}
		for _, d := range batch {
			if err := a.publish(ctx, d.ID, a.drafts.Approve, &sum); err != nil {
				return sum, err
			}
			sum.Approved++
		}
	}

	due, err := a.drafts.DueRetries(ctx, a.now().UTC())
	if err != nil {
		return sum, fmt.Errorf("listing due retries: %w", err)
	}
	for _, d := range due {
		if err := a.publish(ctx, d.ID, a.drafts.Retry, &sum); err != nil {
			return sum, err
		}
		sum.Retried++
	}
	return sum, nil
}

// publish paces and runs one action. Only context cancellation is returned;
// draft failures are recorded in sum.
func (a *AutoPublisher) publish(ctx context.Context, id string, action func(context.Context, string) (*models.Draft, error), sum *Summary) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	d, err := action(ctx, id)
	if err == nil {
		sum.Published++
		return nil
	}
	if errors.Is(err, storage.ErrConflict) || errors.Is(err, drafts.ErrInvalidTransition) {
		// Someone else handled it between listing and claiming.
		return nil
	}
	sum.Failed++
	sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", id, err))
	status := models.DraftStatus("")
	if d != nil {
		status = d.Status
	}
	a.log.Warn(logging.WithDraftID(ctx, id), "auto-publish attempt failed",
		zap.String("status", string(status)), zap.Error(err))
	return nil
}
