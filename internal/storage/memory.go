package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cyderes/social-autopilot/internal/models"
)

// MemoryStorage implements Storage in process memory. It backs tests and
// single-node development runs.
type MemoryStorage struct {
	mu          sync.RWMutex
	drafts      map[string]models.Draft
	bySource    map[string]string
	posts       map[string]models.Post
	campaigns   map[string]models.Campaign
	connections map[models.Platform]models.PlatformConnection
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		drafts:      make(map[string]models.Draft),
		bySource:    make(map[string]string),
		posts:       make(map[string]models.Post),
		campaigns:   make(map[string]models.Campaign),
		connections: make(map[models.Platform]models.PlatformConnection),
	}
}

// CreateDraft stores a new draft, rejecting repeated source messages.
func (m *MemoryStorage) CreateDraft(ctx context.Context, d *models.Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bySource[d.SourceMessageID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.drafts[d.ID]; ok {
		return ErrDuplicate
	}
	m.drafts[d.ID] = *d
	m.bySource[d.SourceMessageID] = d.ID
	return nil
}

// GetDraft retrieves a draft by ID.
func (m *MemoryStorage) GetDraft(ctx context.Context, id string) (*models.Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.drafts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

// GetDraftBySource retrieves the draft generated for a source message.
func (m *MemoryStorage) GetDraftBySource(ctx context.Context, sourceMessageID string) (*models.Draft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.bySource[sourceMessageID]
	if !ok {
		return nil, ErrNotFound
	}
	d := m.drafts[id]
	return &d, nil
}

// ListDrafts returns drafts matching f, newest first unless ordered by score.
func (m *MemoryStorage) ListDrafts(ctx context.Context, f DraftFilter) ([]models.Draft, error) {
	m.mu.RLock()
	out := make([]models.Draft, 0, len(m.drafts))
	for _, d := range m.drafts {
		if matchesDraft(&d, f) {
			out = append(out, d)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if f.OrderByScore && out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, f.Limit, f.Offset), nil
}

// UpdateDraft replaces a draft if its stored status equals expect.
func (m *MemoryStorage) UpdateDraft(ctx context.Context, d *models.Draft, expect models.DraftStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.drafts[d.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expect {
		return ErrConflict
	}
	m.drafts[d.ID] = *d
	return nil
}

// DeleteDraft removes a draft.
func (m *MemoryStorage) DeleteDraft(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drafts[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.drafts, id)
	delete(m.bySource, d.SourceMessageID)
	return nil
}

// DeleteDraftsBelow removes unpublished drafts scoring below score.
func (m *MemoryStorage) DeleteDraftsBelow(ctx context.Context, score int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, d := range m.drafts {
		if d.Score < score && d.Status != models.DraftPublished {
			delete(m.drafts, id)
			delete(m.bySource, d.SourceMessageID)
			n++
		}
	}
	return n, nil
}

// CreatePost stores a new post.
func (m *MemoryStorage) CreatePost(ctx context.Context, p *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.posts[p.ID]; ok {
		return ErrDuplicate
	}
	m.posts[p.ID] = clonePost(*p)
	return nil
}

// GetPost retrieves a post by ID, including soft-deleted ones.
func (m *MemoryStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	p = clonePost(p)
	return &p, nil
}

// ListPosts returns posts matching f, newest first.
func (m *MemoryStorage) ListPosts(ctx context.Context, f PostFilter) ([]models.Post, error) {
	m.mu.RLock()
	out := make([]models.Post, 0, len(m.posts))
	for _, p := range m.posts {
		if matchesPost(&p, f) {
			out = append(out, clonePost(p))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, f.Limit, f.Offset), nil
}

// UpdatePost replaces a post.
func (m *MemoryStorage) UpdatePost(ctx context.Context, p *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.posts[p.ID]; !ok {
		return ErrNotFound
	}
	m.posts[p.ID] = clonePost(*p)
	return nil
}

// UpdatePostIf replaces a live post if its stored status equals expect.
func (m *MemoryStorage) UpdatePostIf(ctx context.Context, p *models.Post, expect models.PostStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.posts[p.ID]
	if !ok || current.DeletedAt != nil {
		return ErrNotFound
	}
	if current.Status != expect {
		return ErrConflict
	}
	m.posts[p.ID] = clonePost(*p)
	return nil
}

// SoftDeletePost stamps DeletedAt once.
func (m *MemoryStorage) SoftDeletePost(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.posts[id]
	if !ok {
		return false, ErrNotFound
	}
	if p.DeletedAt != nil {
		return true, nil
	}
	p.DeletedAt = &at
	p.UpdatedAt = at
	m.posts[id] = p
	return false, nil
}

// CreateCampaign stores a new campaign.
func (m *MemoryStorage) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.campaigns[c.ID]; ok {
		return ErrDuplicate
	}
	m.campaigns[c.ID] = *c
	return nil
}

// GetCampaign retrieves a campaign by ID.
func (m *MemoryStorage) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// ListCampaigns returns all campaigns, newest first.
func (m *MemoryStorage) ListCampaigns(ctx context.Context) ([]models.Campaign, error) {
	m.mu.RLock()
	out := make([]models.Campaign, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdateCampaign replaces a campaign.
func (m *MemoryStorage) UpdateCampaign(ctx context.Context, c *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.campaigns[c.ID]; !ok {
		return ErrNotFound
	}
	m.campaigns[c.ID] = *c
	return nil
}

// DeleteCampaign removes a campaign.
func (m *MemoryStorage) DeleteCampaign(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.campaigns[id]; !ok {
		return ErrNotFound
	}
	delete(m.campaigns, id)
	return nil
}

// GetConnection retrieves the connection row for a platform.
func (m *MemoryStorage) GetConnection(ctx context.Context, p models.Platform) (*models.PlatformConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.connections[p]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// UpsertConnection creates or replaces the connection row for a platform.
func (m *MemoryStorage) UpsertConnection(ctx context.Context, c *models.PlatformConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connections[c.Platform] = *c
	return nil
}

// ListConnections returns connection rows in platform order.
func (m *MemoryStorage) ListConnections(ctx context.Context) ([]models.PlatformConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.PlatformConnection, 0, len(m.connections))
	for _, p := range models.AllPlatforms {
		if c, ok := m.connections[p]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// Ping always succeeds.
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryStorage) Close() error {
	return nil
}

// clonePost copies the per-platform results so callers never share them
// with the stored record.
func clonePost(p models.Post) models.Post {
	p.PlatformData = p.PlatformData.Clone()
	return p
}
