// Package drafts owns the draft lifecycle: creation, review, publication,
// retry and cleanup.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/events"
	"github.com/cyderes/social-autopilot/internal/logging"
	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/platform"
	"github.com/cyderes/social-autopilot/internal/retry"
	"github.com/cyderes/social-autopilot/internal/storage"
	"github.com/cyderes/social-autopilot/internal/telemetry"
)

var (
	// ErrInvalidTransition is returned when an action is not allowed from the
	// draft's current status.
	ErrInvalidTransition = errors.New("invalid draft transition")
	// ErrBelowThreshold is returned when a draft scores under the quality bar.
	ErrBelowThreshold = errors.New("score below threshold")
	// ErrHistoryNotRecorded is returned with a published draft whose history
	// post could not be written.
	ErrHistoryNotRecorded = errors.New("post history not recorded")
)

// staleClaimAfter is how long a draft may stay approved before Retry assumes
// the attempt holding it died without recording an outcome.
const staleClaimAfter = 10 * time.Minute

// historyNamespace derives the history post ID from the draft ID, so a
// draft maps to at most one history row.
var historyNamespace = uuid.MustParse("5b0e7c1a-8f3d-4c62-a9e4-1d6f2b7c3e90")

// Publisher posts a draft to its platform.
type Publisher interface {
	PublishDraft(ctx context.Context, d *models.Draft) (platform.PostResult, error)
}

// Regenerator replaces generated content.
type Regenerator interface {
	RegenerateText(ctx context.Context, d *models.Draft, campaign models.CampaignType, strategy models.Strategy) error
	RegenerateImage(ctx context.Context, d *models.Draft, strategy models.Strategy) error
}

// CampaignLookup resolves campaign types by name.
type CampaignLookup interface {
	Lookup(name string) (models.CampaignType, bool)
}

// Store is the persistence the service needs.
type Store interface {
	storage.DraftStore
	CreatePost(ctx context.Context, p *models.Post) error
}

// Dependencies wires a Service.
type Dependencies struct {
	Store       Store
	Publisher   Publisher
	Regenerator Regenerator
	Campaigns   CampaignLookup
	Policy      retry.Policy
	Threshold   int
	Bus         events.Bus
	Metrics     *telemetry.Metrics
	Logger      *logging.Logger
	Now         func() time.Time
}

// Service implements the draft state machine.
type Service struct {
	store     Store
	publisher Publisher
	regen     Regenerator
	campaigns CampaignLookup
	policy    retry.Policy
	threshold int
	bus       events.Bus
	metrics   *telemetry.Metrics
	history   failsafe.Executor[struct{}]
	log       *logging.Logger
	now       func() time.Time
}

// historyPolicy bounds the writes of one history post.
var historyPolicy = retry.Policy{
	MaxAttempts: config.MaxPublishAttempts,
	BaseDelay:   50 * time.Millisecond,
	MaxDelay:    500 * time.Millisecond,
}

// NewService creates a Service.
func NewService(d Dependencies) *Service {
	s := &Service{
		store:     d.Store,
		publisher: d.Publisher,
		regen:     d.Regenerator,
		campaigns: d.Campaigns,
		policy:    d.Policy,
		threshold: d.Threshold,
		bus:       d.Bus,
		metrics:   d.Metrics,
		history:   retry.Executor(historyPolicy, func(_ struct{}, err error) bool { return err != nil }),
		log:       d.Logger,
		now:       d.Now,
	}
	if s.policy.MaxAttempts == 0 {
		s.policy = retry.Default()
	}
	if s.bus == nil {
		s.bus = events.Nop{}
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Threshold returns the review quality bar.
func (s *Service) Threshold() int { return s.threshold }

// Create persists a new pending_review draft. Drafts under the threshold are
// refused and never stored.
func (s *Service) Create(ctx context.Context, d *models.Draft) error {
	if d.Score < s.threshold {
		return fmt.Errorf("draft for %s scored %d: %w", d.SourceMessageID, d.Score, ErrBelowThreshold)
	}
	if d.SourceMessageID == "" {
		return models.Invalid("originalTweetId", "is required")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	d.Status = models.DraftPendingReview
	d.PublishAttempts = 0
	d.LastError = ""
	d.NextRetryAt = nil

	if err := s.store.CreateDraft(ctx, d); err != nil {
		return fmt.Errorf("creating draft: %w", err)
	}
	s.metrics.DraftCreated(d.CampaignType)
	s.emit(ctx, events.DraftCreated, d)
	return nil
}

// Get returns a draft.
func (s *Service) Get(ctx context.Context, id string) (*models.Draft, error) {
	return s.store.GetDraft(ctx, id)
}

// DueRetries returns pending_retry drafts whose retry time is at or before
// now. Unlike List it applies no score floor: a draft that was approved keeps
// its retries even if the threshold has been raised since.
func (s *Service) DueRetries(ctx context.Context, now time.Time) ([]models.Draft, error) {
	return s.store.ListDrafts(ctx, storage.DraftFilter{
		Statuses:  []models.DraftStatus{models.DraftPendingRetry},
		DueBefore: &now,
	})
}

// List returns drafts matching f. Review listings never surface drafts under
// the threshold.
func (s *Service) List(ctx context.Context, f storage.DraftFilter) ([]models.Draft, error) {
	if f.MinScore < s.threshold {
		f.MinScore = s.threshold
	}
	return s.store.ListDrafts(ctx, f)
}

// Top returns the highest-scoring drafts awaiting review.
func (s *Service) Top(ctx context.Context, limit int) ([]models.Draft, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.store.ListDrafts(ctx, storage.DraftFilter{
		Statuses:     []models.DraftStatus{models.DraftPendingReview},
		MinScore:     s.threshold,
		OrderByScore: true,
		Limit:        limit,
	})
}

// Reject moves a pending_review draft to rejected.
func (s *Service) Reject(ctx context.Context, id string) (*models.Draft, error) {
	d, err := s.store.GetDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DraftPendingReview {
		return d, fmt.Errorf("reject from %s: %w", d.Status, ErrInvalidTransition)
	}
	d.Status = models.DraftRejected
	d.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDraft(ctx, d, models.DraftPendingReview); err != nil {
		return nil, fmt.Errorf("rejecting draft %s: %w", id, err)
	}
	return d, nil
}

// Approve publishes a pending_review or pending_retry draft.
func (s *Service) Approve(ctx context.Context, id string) (*models.Draft, error) {
	d, err := s.store.GetDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	switch d.Status {
	case models.DraftPendingReview, models.DraftPendingRetry:
	default:
		return d, fmt.Errorf("approve from %s: %w", d.Status, ErrInvalidTransition)
	}
	return s.attempt(ctx, d)
}

// Retry re-attempts a pending_retry draft, or a failed one after resetting
// its attempt counter. A draft left approved for longer than staleClaimAfter
// is first marked failed.
func (s *Service) Retry(ctx context.Context, id string) (*models.Draft, error) {
	d, err := s.store.GetDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == models.DraftApproved && s.now().Sub(d.UpdatedAt) >= staleClaimAfter {
		if d, err = s.releaseStale(ctx, d); err != nil {
			return nil, err
		}
	}
	switch d.Status {
	case models.DraftPendingRetry:
	case models.DraftFailed:
		d.PublishAttempts = 0
		d.NextRetryAt = nil
	default:
		return d, fmt.Errorf("retry from %s: %w", d.Status, ErrInvalidTransition)
	}
	return s.attempt(ctx, d)
}

// PublishError wraps the failure of a publish attempt together with the
// status the draft was moved to.
type PublishError struct {
	Status models.DraftStatus
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed (draft now %s): %v", e.Status, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// releaseStale moves an abandoned approved draft to failed. Losing the race
// to another caller is not an error; the current state is returned.
func (s *Service) releaseStale(ctx context.Context, d *models.Draft) (*models.Draft, error) {
	d.Status = models.DraftFailed
	d.LastError = "publish outcome was never recorded"
	d.NextRetryAt = nil
	d.UpdatedAt = s.now().UTC()
	err := s.store.UpdateDraft(ctx, d, models.DraftApproved)
	if errors.Is(err, storage.ErrConflict) {
		return s.store.GetDraft(ctx, d.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("releasing stale draft %s: %w", d.ID, err)
	}
	s.log.Warn(logging.WithDraftID(ctx, d.ID), "released draft left in approved",
		zap.Int("attempts", d.PublishAttempts))
	return d, nil
}

// attempt claims d by moving it to approved, publishes, and records the
// outcome. The claim fails with storage.ErrConflict when another caller won.
// Once the platform has answered, the outcome is recorded even if ctx is
// cancelled.
func (s *Service) attempt(ctx context.Context, d *models.Draft) (*models.Draft, error) {
	ctx = logging.WithDraftID(ctx, d.ID)
	from := d.Status
	d.Status = models.DraftApproved
	d.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDraft(ctx, d, from); err != nil {
		return nil, fmt.Errorf("claiming draft %s: %w", d.ID, err)
	}

	res, pubErr := s.publisher.PublishDraft(ctx, d)
	d.PublishAttempts++
	now := s.now().UTC()
	d.UpdatedAt = now
	rctx := context.WithoutCancel(ctx)

	if pubErr == nil {
		return s.markPublished(rctx, d, res, now)
	}

	d.LastError = pubErr.Error()
	decision := s.policy.Decide(d.PublishAttempts, pubErr)
	subject := events.DraftFailed
	if decision.Retry {
		next := now.Add(decision.Delay)
		d.Status = models.DraftPendingRetry
		d.NextRetryAt = &next
		subject = events.DraftRetry
	} else {
		d.Status = models.DraftFailed
		d.NextRetryAt = nil
	}
	if err := s.store.UpdateDraft(rctx, d, models.DraftApproved); err != nil {
		s.log.Error(rctx, "failed to record publish failure",
			zap.String("status", string(d.Status)),
			zap.NamedError("publish_error", pubErr),
			zap.Error(err))
		return nil, fmt.Errorf("recording publish failure for %s: %w", d.ID, err)
	}

	s.log.Warn(rctx, "draft publish failed",
		zap.String("status", string(d.Status)),
		zap.Int("attempts", d.PublishAttempts),
		zap.Bool("rate_limited", retry.IsRateLimit(pubErr)),
		zap.Error(pubErr))
	s.emit(rctx, subject, d)
	return d, &PublishError{Status: d.Status, Err: pubErr}
}

func (s *Service) markPublished(ctx context.Context, d *models.Draft, res platform.PostResult, now time.Time) (*models.Draft, error) {
	d.Status = models.DraftPublished
	d.PlatformPostID = res.ID
	d.PublishedAt = &now
	d.LastError = ""
	d.NextRetryAt = nil
	if err := s.store.UpdateDraft(ctx, d, models.DraftApproved); err != nil {
		s.log.Error(ctx, "failed to record publication",
			zap.String("platform_post_id", res.ID),
			zap.Error(err))
		return nil, fmt.Errorf("recording publication of %s: %w", d.ID, err)
	}

	s.log.Info(ctx, "draft published",
		zap.String("platform", string(d.Platform)),
		zap.String("platform_post_id", res.ID))
	s.emit(ctx, events.DraftPublished, d)

	if err := s.recordHistory(ctx, historyPost(d, res, now)); err != nil {
		s.log.Error(ctx, "failed to record post history",
			zap.String("platform_post_id", res.ID),
			zap.Error(err))
		return d, fmt.Errorf("draft %s published as %s: %w: %v", d.ID, res.ID, ErrHistoryNotRecorded, err)
	}
	return d, nil
}

// recordHistory writes the history post, retrying transient store errors.
// A duplicate means an earlier try already landed.
func (s *Service) recordHistory(ctx context.Context, post *models.Post) error {
	_, err := s.history.Get(func() (struct{}, error) {
		err := s.store.CreatePost(ctx, post)
		if errors.Is(err, storage.ErrDuplicate) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}

// historyPost is the Post row written for every published draft.
func historyPost(d *models.Draft, res platform.PostResult, now time.Time) *models.Post {
	post := &models.Post{
		ID:            uuid.NewSHA1(historyNamespace, []byte(d.ID)).String(),
		Content:       d.ReplyText,
		Platforms:     []models.Platform{d.Platform},
		Status:        models.PostPublished,
		SourceDraftID: d.ID,
		PublishedAt:   &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if d.ImageURL != "" {
		post.MediaURLs = []string{d.ImageURL}
	}
	post.PlatformData.Record(models.PlatformOutcome{Platform: d.Platform, PostID: res.ID, URL: res.URL})
	return post
}

// RegenerateText replaces the reply text; the status is unchanged.
func (s *Service) RegenerateText(ctx context.Context, id string) (*models.Draft, error) {
	return s.regenerate(ctx, id, func(d *models.Draft, c models.CampaignType, st models.Strategy) error {
		return s.regen.RegenerateText(ctx, d, c, st)
	})
}

// RegenerateImage replaces the image; the status is unchanged.
func (s *Service) RegenerateImage(ctx context.Context, id string) (*models.Draft, error) {
	return s.regenerate(ctx, id, func(d *models.Draft, _ models.CampaignType, st models.Strategy) error {
		return s.regen.RegenerateImage(ctx, d, st)
	})
}

func (s *Service) regenerate(ctx context.Context, id string, fn func(*models.Draft, models.CampaignType, models.Strategy) error) (*models.Draft, error) {
	if s.regen == nil {
		return nil, fmt.Errorf("content generation is not configured")
	}
	d, err := s.store.GetDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	switch d.Status {
	case models.DraftPendingReview, models.DraftPendingRetry, models.DraftFailed:
	default:
		return d, fmt.Errorf("regenerate from %s: %w", d.Status, ErrInvalidTransition)
	}

	campaign, strategy := s.resolve(d)
	status := d.Status
	if err := fn(d, campaign, strategy); err != nil {
		return nil, fmt.Errorf("regenerating draft %s: %w", id, err)
	}
	d.Status = status
	if err := s.store.UpdateDraft(ctx, d, status); err != nil {
		return nil, fmt.Errorf("saving regenerated draft %s: %w", id, err)
	}
	return d, nil
}

func (s *Service) resolve(d *models.Draft) (models.CampaignType, models.Strategy) {
	campaign := models.CampaignType{Name: d.CampaignType}
	if s.campaigns != nil {
		if c, ok := s.campaigns.Lookup(d.CampaignType); ok {
			campaign = c
		}
	}
	strategy, ok := campaign.Strategy(d.Strategy)
	if !ok {
		strategy = models.Strategy{Name: d.Strategy}
	}
	strategy.Action = d.ActionType
	if d.Verdict != nil {
		strategy.Style = models.StyleComparison
	}
	return campaign, strategy
}

// Delete removes a draft permanently.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteDraft(ctx, id)
}

// Cleanup hard-deletes unpublished drafts scoring below score; zero or a
// negative value means the configured threshold.
func (s *Service) Cleanup(ctx context.Context, below int) (int, error) {
	if below <= 0 {
		below = s.threshold
	}
	n, err := s.store.DeleteDraftsBelow(ctx, below)
	if err != nil {
		return 0, fmt.Errorf("cleaning up drafts below %d: %w", below, err)
	}
	s.log.Info(ctx, "draft cleanup complete", zap.Int("below", below), zap.Int("deleted", n))
	return n, nil
}

func (s *Service) emit(ctx context.Context, subject string, d *models.Draft) {
	if err := s.bus.Publish(ctx, subject, d); err != nil {
		s.log.Warn(ctx, "failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
