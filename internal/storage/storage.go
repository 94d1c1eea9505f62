package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a draft for the same source message exists.
	ErrDuplicate = errors.New("duplicate")
	// ErrConflict is returned when a compare-and-set update loses the race.
	ErrConflict = errors.New("conflict")
)

// DraftFilter narrows ListDrafts.
type DraftFilter struct {
	Statuses     []models.DraftStatus
	MinScore     int
	MaxScore     int // exclusive upper bound; zero means no bound
	CampaignType string
	DueBefore    *time.Time // pending_retry drafts whose NextRetryAt is at or before
	Published    bool       // only drafts with a platform post ID
	OrderByScore bool
	Limit        int
	Offset       int
}

// PostFilter narrows ListPosts.
type PostFilter struct {
	Status         models.PostStatus
	CampaignID     string
	Platform       models.Platform
	ScheduledUntil *time.Time // scheduled posts due at or before
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// DraftStore persists drafts.
type DraftStore interface {
	CreateDraft(ctx context.Context, d *models.Draft) error
	GetDraft(ctx context.Context, id string) (*models.Draft, error)
	GetDraftBySource(ctx context.Context, sourceMessageID string) (*models.Draft, error)
	ListDrafts(ctx context.Context, f DraftFilter) ([]models.Draft, error)
	// UpdateDraft replaces d only if the stored status still equals expect.
	UpdateDraft(ctx context.Context, d *models.Draft, expect models.DraftStatus) error
	DeleteDraft(ctx context.Context, id string) error
	// DeleteDraftsBelow hard-deletes unpublished drafts scoring below score.
	DeleteDraftsBelow(ctx context.Context, score int) (int, error)
}

// PostStore persists post history.
type PostStore interface {
	CreatePost(ctx context.Context, p *models.Post) error
	GetPost(ctx context.Context, id string) (*models.Post, error)
	ListPosts(ctx context.Context, f PostFilter) ([]models.Post, error)
	UpdatePost(ctx context.Context, p *models.Post) error
	// UpdatePostIf replaces a live post only while its stored status equals
	// expect, returning ErrConflict otherwise.
	UpdatePostIf(ctx context.Context, p *models.Post, expect models.PostStatus) error
	// SoftDeletePost marks a post deleted; alreadyDeleted is true on repeat calls.
	SoftDeletePost(ctx context.Context, id string, at time.Time) (alreadyDeleted bool, err error)
}

// CampaignStore persists campaigns.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
	UpdateCampaign(ctx context.Context, c *models.Campaign) error
	DeleteCampaign(ctx context.Context, id string) error
}

// ConnectionStore persists one connection row per platform.
type ConnectionStore interface {
	GetConnection(ctx context.Context, p models.Platform) (*models.PlatformConnection, error)
	UpsertConnection(ctx context.Context, c *models.PlatformConnection) error
	ListConnections(ctx context.Context) ([]models.PlatformConnection, error)
}

// Storage interface defines the contract for data storage
type Storage interface {
	DraftStore
	PostStore
	CampaignStore
	ConnectionStore
	Ping(ctx context.Context) error
	Close() error
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStorage(), nil
	case "dynamodb":
		return NewDynamoDBStorage(cfg)
	case "mongodb":
		return NewMongoDBStorage(ctx, cfg)
	case "postgresql":
		return NewPostgreSQLStorage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// KeepAlive pings s every interval until ctx is done. Serverless databases
// suspend after idle periods; the ping keeps the pool warm.
func KeepAlive(ctx context.Context, s Storage, interval time.Duration, onError func(error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := s.Ping(pingCtx)
			cancel()
			if err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

func matchesDraft(d *models.Draft, f DraftFilter) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if d.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if d.Score < f.MinScore {
		return false
	}
	if f.MaxScore > 0 && d.Score >= f.MaxScore {
		return false
	}
	if f.CampaignType != "" && d.CampaignType != f.CampaignType {
		return false
	}
	if f.DueBefore != nil && (d.NextRetryAt == nil || d.NextRetryAt.After(*f.DueBefore)) {
		return false
	}
	if f.Published && d.PlatformPostID == "" {
		return false
	}
	return true
}

func matchesPost(p *models.Post, f PostFilter) bool {
	if !f.IncludeDeleted && p.DeletedAt != nil {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.CampaignID != "" && p.CampaignID != f.CampaignID {
		return false
	}
	if f.Platform != "" {
		ok := false
		for _, pl := range p.Platforms {
			if pl == f.Platform {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.ScheduledUntil != nil && (p.ScheduledAt == nil || p.ScheduledAt.After(*f.ScheduledUntil)) {
		return false
	}
	return true
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
