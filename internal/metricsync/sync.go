// Package metricsync refreshes engagement counters of published content.
package metricsync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cyderes/social-autopilot/internal/logging"
	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/platform"
	"github.com/cyderes/social-autopilot/internal/storage"
	"github.com/cyderes/social-autopilot/internal/telemetry"
)

// Store is the storage the sync reads and updates.
type Store interface {
	ListPosts(ctx context.Context, f storage.PostFilter) ([]models.Post, error)
	UpdatePost(ctx context.Context, p *models.Post) error
	ListDrafts(ctx context.Context, f storage.DraftFilter) ([]models.Draft, error)
	UpdateDraft(ctx context.Context, d *models.Draft, expect models.DraftStatus) error
}

// Clients resolves platform clients.
type Clients interface {
	Get(p models.Platform) (platform.Client, error)
}

// Result reports one sync pass. Batch failures are listed in Errors and do
// not stop the remaining batches.
type Result struct {
	Updated int      `json:"updated"`
	Errors  []string `json:"errors,omitempty"`
}

// Syncer pulls engagement counters from the platforms.
type Syncer struct {
	store   Store
	clients Clients
	metrics *telemetry.Metrics
	log     *logging.Logger
	now     func() time.Time
}

// New creates a Syncer.
func New(store Store, clients Clients, metrics *telemetry.Metrics, log *logging.Logger) *Syncer {
	if log == nil {
		log = logging.Nop()
	}
	return &Syncer{store: store, clients: clients, metrics: metrics, log: log, now: time.Now}
}

// targets groups the records holding one platform's post IDs.
type targets struct {
	ids    []string
	posts  map[string][]int
	drafts map[string][]int
}

func (t *targets) add(id string) {
	if _, ok := t.posts[id]; ok {
		return
	}
	if _, ok := t.drafts[id]; ok {
		return
	}
	t.ids = append(t.ids, id)
}

// Sync fetches counters for every published post and published draft,
// platform by platform in chunks of the platform's batch size.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	var res Result

	posts, err := s.store.ListPosts(ctx, storage.PostFilter{Status: models.PostPublished})
	if err != nil {
		return res, fmt.Errorf("listing published posts: %w", err)
	}
	published, err := s.store.ListDrafts(ctx, storage.DraftFilter{
		Statuses:  []models.DraftStatus{models.DraftPublished},
		Published: true,
	})
	if err != nil {
		return res, fmt.Errorf("listing published drafts: %w", err)
	}

	groups := make(map[models.Platform]*targets)
	group := func(p models.Platform) *targets {
		g, ok := groups[p]
		if !ok {
			g = &targets{posts: map[string][]int{}, drafts: map[string][]int{}}
			groups[p] = g
		}
		return g
	}
	for i, p := range posts {
		for _, pl := range p.Platforms {
			o, ok := p.PlatformData.Outcome(pl)
			if !ok || o.PostID == "" {
				continue
			}
			g := group(pl)
			g.add(o.PostID)
			g.posts[o.PostID] = append(g.posts[o.PostID], i)
		}
	}
	for i, d := range published {
		g := group(d.Platform)
		g.add(d.PlatformPostID)
		g.drafts[d.PlatformPostID] = append(g.drafts[d.PlatformPostID], i)
	}

	dirtyPosts := make(map[int]bool)
	dirtyDrafts := make(map[int]bool)
	for _, pl := range sortedPlatforms(groups) {
		g := groups[pl]
		client, err := s.clients.Get(pl)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", pl, err))
			continue
		}
		size := client.MetricsBatchSize()
		if size <= 0 {
			continue
		}
		for start := 0; start < len(g.ids); start += size {
			end := min(start+size, len(g.ids))
			batch := g.ids[start:end]
			counters, err := client.FetchMetrics(ctx, batch)
			if err != nil {
				s.metrics.SyncFailed(string(pl))
				res.Errors = append(res.Errors, fmt.Sprintf("%s batch %d-%d: %v", pl, start, end-1, err))
				s.log.Warn(ctx, "metrics batch failed",
					zap.String("platform", string(pl)),
					zap.Int("size", len(batch)),
					zap.Error(err))
				continue
			}
			for id, e := range counters {
				for _, i := range g.posts[id] {
					posts[i].PlatformData.SetEngagement(pl, e)
					dirtyPosts[i] = true
				}
				for _, i := range g.drafts[id] {
					published[i].Engagement = e
					dirtyDrafts[i] = true
				}
			}
		}
	}

	now := s.now().UTC()
	for i := range posts {
		if !dirtyPosts[i] {
			continue
		}
		p := &posts[i]
		p.LastSyncedAt = &now
		if err := s.store.UpdatePost(ctx, p); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("post %s: %v", p.ID, err))
			continue
		}
		res.Updated++
		for _, pl := range p.Platforms {
			s.metrics.Synced(string(pl), 1)
		}
	}
	for i := range published {
		if !dirtyDrafts[i] {
			continue
		}
		d := &published[i]
		d.LastSyncedAt = &now
		if err := s.store.UpdateDraft(ctx, d, models.DraftPublished); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("draft %s: %v", d.ID, err))
			continue
		}
		res.Updated++
		s.metrics.Synced(string(d.Platform), 1)
	}

	s.log.Info(ctx, "metrics sync finished", zap.Int("updated", res.Updated), zap.Int("errors", len(res.Errors)))
	return res, nil
}

func sortedPlatforms(groups map[models.Platform]*targets) []models.Platform {
	out := make([]models.Platform, 0, len(groups))
	for p := range groups {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Run syncs every interval until ctx is done.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil {
				s.log.Error(ctx, "metrics sync failed", zap.Error(err))
			}
		}
	}
}
