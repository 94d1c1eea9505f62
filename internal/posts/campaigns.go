package posts

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/publisher"
	"github.com/cyderes/social-autopilot/internal/storage"
)

// CampaignInput is the payload of CreateCampaign and UpdateCampaign.
type CampaignInput struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Platforms   []models.Platform     `json:"platforms"`
	Status      models.CampaignStatus `json:"status"`
	OwnerID     string                `json:"ownerId"`
}

// CreateCampaign stores a new campaign in draft status.
func (s *Service) CreateCampaign(ctx context.Context, in CampaignInput) (*models.Campaign, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, models.Invalid("name", "is required")
	}
	if err := validatePlatforms(in.Platforms); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	c := &models.Campaign{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Platforms:   in.Platforms,
		Status:      models.CampaignDraft,
		OwnerID:     in.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("creating campaign: %w", err)
	}
	return c, nil
}

// GetCampaign returns a campaign.
func (s *Service) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	return s.store.GetCampaign(ctx, id)
}

// ListCampaigns returns every campaign.
func (s *Service) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	return s.store.ListCampaigns(ctx)
}

// CampaignPosts returns the posts of a campaign.
func (s *Service) CampaignPosts(ctx context.Context, id string) ([]models.Post, error) {
	if _, err := s.store.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListPosts(ctx, storage.PostFilter{CampaignID: id})
}

// UpdateCampaign edits a campaign; empty fields are left unchanged.
func (s *Service) UpdateCampaign(ctx context.Context, id string, in CampaignInput) (*models.Campaign, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != "" {
		c.Name = in.Name
	}
	if in.Description != "" {
		c.Description = in.Description
	}
	if in.Platforms != nil {
		if err := validatePlatforms(in.Platforms); err != nil {
			return nil, err
		}
		c.Platforms = in.Platforms
	}
	if in.Status != "" {
		if !in.Status.Valid() {
			return nil, models.Invalid("status", "unknown campaign status %q", in.Status)
		}
		c.Status = in.Status
	}
	c.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("updating campaign %s: %w", id, err)
	}
	return c, nil
}

// DeleteCampaign removes a campaign; its posts are kept.
func (s *Service) DeleteCampaign(ctx context.Context, id string) error {
	return s.store.DeleteCampaign(ctx, id)
}

// PauseCampaign moves an active campaign to paused.
func (s *Service) PauseCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != models.CampaignActive {
		return c, fmt.Errorf("pause %s campaign: %w", c.Status, ErrInvalidState)
	}
	c.Status = models.CampaignPaused
	c.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("pausing campaign %s: %w", id, err)
	}
	return c, nil
}

// LaunchItem is the outcome of one post in a launch.
type LaunchItem struct {
	PostID string            `json:"postId"`
	Status models.PostStatus `json:"status"`
	Result publisher.Result  `json:"result"`
	Error  string            `json:"error,omitempty"`
}

// LaunchSummary reports a campaign launch.
type LaunchSummary struct {
	Campaign  *models.Campaign `json:"campaign"`
	Total     int              `json:"total"`
	Published int              `json:"published"`
	Failed    int              `json:"failed"`
	Results   []LaunchItem     `json:"results"`
}

// LaunchCampaign publishes every draft post of the campaign and marks it
// active. A failing post does not stop the others.
func (s *Service) LaunchCampaign(ctx context.Context, id string) (*LaunchSummary, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == models.CampaignCompleted {
		return nil, fmt.Errorf("launch %s campaign: %w", c.Status, ErrInvalidState)
	}

	members, err := s.store.ListPosts(ctx, storage.PostFilter{CampaignID: id, Status: models.PostDraft})
	if err != nil {
		return nil, fmt.Errorf("listing campaign posts: %w", err)
	}

	sum := &LaunchSummary{Total: len(members), Results: make([]LaunchItem, 0, len(members))}
	for i := range members {
		p := &members[i]
		if len(p.Platforms) == 0 {
			p.Platforms = c.Platforms
		}
		res, err := s.publish(ctx, p)
		item := LaunchItem{PostID: p.ID, Status: p.Status, Result: res}
		if err != nil {
			item.Error = err.Error()
		}
		if err == nil && res.Success {
			sum.Published++
		} else {
			sum.Failed++
		}
		sum.Results = append(sum.Results, item)
	}

	c.Status = models.CampaignActive
	c.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("activating campaign %s: %w", id, err)
	}
	sum.Campaign = c

	s.log.Info(ctx, "campaign launched",
		zap.String("campaign_id", id),
		zap.Int("published", sum.Published),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

