// Package posts manages post history, scheduled posts and campaigns.
package posts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cyderes/social-autopilot/internal/events"
	"github.com/cyderes/social-autopilot/internal/logging"
	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/publisher"
	"github.com/cyderes/social-autopilot/internal/storage"
)

// ErrInvalidState is returned when a post or campaign cannot take an action
// in its current status.
var ErrInvalidState = errors.New("invalid state")

// staleClaimAfter is how long a post may sit in publishing before another
// publish may take it over.
const staleClaimAfter = 10 * time.Minute

// Publisher posts to every target platform of a post.
type Publisher interface {
	PublishPost(ctx context.Context, post *models.Post) publisher.Result
}

// Store is the persistence the service needs.
type Store interface {
	storage.PostStore
	storage.CampaignStore
}

// Service manages posts and campaigns.
type Service struct {
	store     Store
	publisher Publisher
	bus       events.Bus
	log       *logging.Logger
	now       func() time.Time
}

// NewService creates a Service. bus and log may be nil.
func NewService(store Store, pub Publisher, bus events.Bus, log *logging.Logger) *Service {
	if bus == nil {
		bus = events.Nop{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Service{store: store, publisher: pub, bus: bus, log: log, now: time.Now}
}

// CreateInput is the payload of Create.
type CreateInput struct {
	Content     string            `json:"content"`
	Platforms   []models.Platform `json:"platforms"`
	MediaURLs   []string          `json:"mediaUrls"`
	CampaignID  string            `json:"campaignId"`
	ScheduledAt *time.Time        `json:"scheduledAt"`
}

// UpdateInput is the payload of Update; nil fields are left unchanged.
type UpdateInput struct {
	Content     *string           `json:"content"`
	Platforms   []models.Platform `json:"platforms"`
	MediaURLs   []string          `json:"mediaUrls"`
	ScheduledAt *time.Time        `json:"scheduledAt"`
}

func validatePlatforms(ps []models.Platform) error {
	if len(ps) == 0 {
		return models.Invalid("platforms", "at least one platform is required")
	}
	seen := make(map[models.Platform]bool, len(ps))
	for _, p := range ps {
		if !p.Valid() {
			return models.Invalid("platforms", "unknown platform %q", p)
		}
		if seen[p] {
			return models.Invalid("platforms", "duplicate platform %q", p)
		}
		seen[p] = true
	}
	return nil
}

// Create stores a new post, scheduled when ScheduledAt lies in the future.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Post, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, models.Invalid("content", "is required")
	}
	if err := validatePlatforms(in.Platforms); err != nil {
		return nil, err
	}
	if in.CampaignID != "" {
		if _, err := s.store.GetCampaign(ctx, in.CampaignID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, models.Invalid("campaignId", "campaign %s does not exist", in.CampaignID)
			}
			return nil, err
		}
	}

	now := s.now().UTC()
	p := &models.Post{
		ID:         uuid.NewString(),
		Content:    in.Content,
		Platforms:  in.Platforms,
		MediaURLs:  in.MediaURLs,
		CampaignID: in.CampaignID,
		Status:     models.PostDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.ScheduledAt != nil && in.ScheduledAt.After(now) {
		at := in.ScheduledAt.UTC()
		p.ScheduledAt = &at
		p.Status = models.PostScheduled
	}
	if err := s.store.CreatePost(ctx, p); err != nil {
		return nil, fmt.Errorf("creating post: %w", err)
	}
	return p, nil
}

// Get returns a live post. Soft-deleted posts are not found.
func (s *Service) Get(ctx context.Context, id string) (*models.Post, error) {
	p, err := s.store.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.DeletedAt != nil {
		return nil, storage.ErrNotFound
	}
	return p, nil
}

// List returns posts matching f.
func (s *Service) List(ctx context.Context, f storage.PostFilter) ([]models.Post, error) {
	return s.store.ListPosts(ctx, f)
}

// Update edits a post that has not been published yet.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*models.Post, error) {
	p, err := s.store.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.DeletedAt != nil {
		return nil, storage.ErrNotFound
	}
	if p.Status != models.PostDraft && p.Status != models.PostScheduled {
		return nil, fmt.Errorf("update %s post: %w", p.Status, ErrInvalidState)
	}
	from := p.Status
	if in.Content != nil {
		if strings.TrimSpace(*in.Content) == "" {
			return nil, models.Invalid("content", "is required")
		}
		p.Content = *in.Content
	}
	if in.Platforms != nil {
		if err := validatePlatforms(in.Platforms); err != nil {
			return nil, err
		}
		p.Platforms = in.Platforms
	}
	if in.MediaURLs != nil {
		p.MediaURLs = in.MediaURLs
	}
	now := s.now().UTC()
	if in.ScheduledAt != nil {
		if in.ScheduledAt.After(now) {
			at := in.ScheduledAt.UTC()
			p.ScheduledAt = &at
			p.Status = models.PostScheduled
		} else {
			p.ScheduledAt = nil
			p.Status = models.PostDraft
		}
	}
	p.UpdatedAt = now
	err = s.store.UpdatePostIf(ctx, p, from)
	if errors.Is(err, storage.ErrConflict) {
		return nil, fmt.Errorf("post %s changed status during update: %w", id, ErrInvalidState)
	}
	if err != nil {
		return nil, fmt.Errorf("updating post %s: %w", id, err)
	}
	return p, nil
}

// Publish sends a draft, scheduled or failed post to its platforms. The post
// is published when at least one platform accepted it.
func (s *Service) Publish(ctx context.Context, id string) (*models.Post, publisher.Result, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, publisher.Result{}, err
	}
	if p.Status == models.PostPublished {
		return p, publisher.Result{}, fmt.Errorf("publish %s post: %w", p.Status, ErrInvalidState)
	}
	res, err := s.publish(ctx, p)
	return p, res, err
}

// claim moves p to publishing with a compare-and-set on its current status,
// so only one caller sends it.
func (s *Service) claim(ctx context.Context, p *models.Post) error {
	from := p.Status
	if from == models.PostPublishing && s.now().Sub(p.UpdatedAt) < staleClaimAfter {
		return fmt.Errorf("post %s is being published: %w", p.ID, ErrInvalidState)
	}
	p.Status = models.PostPublishing
	p.UpdatedAt = s.now().UTC()
	err := s.store.UpdatePostIf(ctx, p, from)
	if errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("post %s is being published: %w", p.ID, ErrInvalidState)
	}
	if err != nil {
		return fmt.Errorf("claiming post %s: %w", p.ID, err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, p *models.Post) (publisher.Result, error) {
	if err := s.claim(ctx, p); err != nil {
		return publisher.Result{}, err
	}

	res := s.publisher.PublishPost(ctx, p)
	now := s.now().UTC()
	p.UpdatedAt = now
	if res.Success {
		p.Status = models.PostPublished
		p.PublishedAt = &now
		if len(res.Failed) > 0 {
			s.log.Warn(ctx, "post partially published",
				zap.String("post_id", p.ID),
				zap.Any("failed", res.Failed))
		}
	} else {
		p.Status = models.PostFailed
	}

	// the platforms have answered; the outcome is stored even if ctx is gone
	rctx := context.WithoutCancel(ctx)
	if err := s.store.UpdatePostIf(rctx, p, models.PostPublishing); err != nil {
		s.log.Error(rctx, "failed to record publish outcome",
			zap.String("post_id", p.ID),
			zap.String("status", string(p.Status)),
			zap.Error(err))
		return res, fmt.Errorf("recording publish of post %s: %w", p.ID, err)
	}
	if res.Success {
		if err := s.bus.Publish(rctx, events.PostPublished, p); err != nil {
			s.log.Warn(rctx, "failed to publish event", zap.String("subject", events.PostPublished), zap.Error(err))
		}
	}
	return res, nil
}

// Delete soft-deletes a post. Deleting it again reports alreadyDeleted.
func (s *Service) Delete(ctx context.Context, id string) (alreadyDeleted bool, err error) {
	return s.store.SoftDeletePost(ctx, id, s.now().UTC())
}

// DispatchSummary reports one DispatchDue pass.
type DispatchSummary struct {
	Due       int      `json:"due"`
	Published int      `json:"published"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// DispatchDue publishes scheduled posts whose time has come. Posts claimed,
// edited or deleted by someone else since the listing are skipped.
func (s *Service) DispatchDue(ctx context.Context) (DispatchSummary, error) {
	now := s.now().UTC()
	due, err := s.store.ListPosts(ctx, storage.PostFilter{Status: models.PostScheduled, ScheduledUntil: &now})
	if err != nil {
		return DispatchSummary{}, fmt.Errorf("listing due posts: %w", err)
	}

	sum := DispatchSummary{Due: len(due)}
	for i := range due {
		p := &due[i]
		res, err := s.publish(ctx, p)
		switch {
		case errors.Is(err, ErrInvalidState), errors.Is(err, storage.ErrNotFound):
			sum.Skipped++
		case err != nil:
			sum.Failed++
			sum.Errors = append(sum.Errors, err.Error())
		case res.Success:
			sum.Published++
		default:
			sum.Failed++
			for pl, msg := range res.Errors {
				sum.Errors = append(sum.Errors, fmt.Sprintf("%s %s: %s", p.ID, pl, msg))
			}
		}
	}
	return sum, nil
}

// Run dispatches due posts every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sum, err := s.DispatchDue(ctx)
			if err != nil {
				s.log.Error(ctx, "scheduled post dispatch failed", zap.Error(err))
				continue
			}
			if sum.Due > 0 {
				s.log.Info(ctx, "dispatched scheduled posts",
					zap.Int("due", sum.Due),
					zap.Int("published", sum.Published),
					zap.Int("failed", sum.Failed))
			}
		}
	}
}
