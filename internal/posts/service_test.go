package posts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/social-autopilot/internal/events"
	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/platform/platformtest"
	"github.com/cyderes/social-autopilot/internal/publisher"
	"github.com/cyderes/social-autopilot/internal/storage"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	store   *storage.MemoryStorage
	twitter *platformtest.Fake
	discord *platformtest.Fake
	bus     *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStorage()
	tw := platformtest.New(models.PlatformTwitter)
	dc := platformtest.New(models.PlatformDiscord)
	bus := &events.Recorder{}
	pub := publisher.New(platformtest.Clients{models.PlatformTwitter: tw, models.PlatformDiscord: dc}, nil, nil)
	svc := NewService(store, pub, bus, nil)
	svc.now = func() time.Time { return fixedNow }
	return &fixture{svc: svc, store: store, twitter: tw, discord: dc, bus: bus}
}

func both() []models.Platform {
	return []models.Platform{models.PlatformTwitter, models.PlatformDiscord}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var verr *models.ValidationError

	_, err := f.svc.Create(ctx, CreateInput{Content: " ", Platforms: both()})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "content", verr.Field)

	_, err = f.svc.Create(ctx, CreateInput{Content: "hi"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "platforms", verr.Field)

	_, err = f.svc.Create(ctx, CreateInput{Content: "hi", Platforms: []models.Platform{"myspace"}})
	require.ErrorAs(t, err, &verr)

	_, err = f.svc.Create(ctx, CreateInput{Content: "hi", Platforms: both(), CampaignID: "missing"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "campaignId", verr.Field)
}

func TestCreate_ScheduledInFuture(t *testing.T) {
	f := newFixture(t)
	later := fixedNow.Add(time.Hour)
	earlier := fixedNow.Add(-time.Hour)

	p, err := f.svc.Create(context.Background(), CreateInput{Content: "hi", Platforms: both(), ScheduledAt: &later})
	require.NoError(t, err)
	assert.Equal(t, models.PostScheduled, p.Status)

	p, err = f.svc.Create(context.Background(), CreateInput{Content: "hi", Platforms: both(), ScheduledAt: &earlier})
	require.NoError(t, err)
	assert.Equal(t, models.PostDraft, p.Status)
	assert.Nil(t, p.ScheduledAt)
}

func TestPublish_PartialSuccessIsPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.discord.PostErrs = []error{errors.New("missing permissions")}
	p, err := f.svc.Create(ctx, CreateInput{Content: "hello", Platforms: both()})
	require.NoError(t, err)

	got, res, err := f.svc.Publish(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []models.Platform{models.PlatformDiscord}, res.Failed)
	assert.Equal(t, models.PostPublished, got.Status)

	stored, err := f.store.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostPublished, stored.Status)
	assert.Equal(t, "twitter-1", stored.PlatformData.Twitter.TweetID)
	assert.Contains(t, stored.PlatformData.Discord.Error, "missing permissions")
	assert.Equal(t, []string{events.PostPublished}, f.bus.Subjects())

	_, _, err = f.svc.Publish(ctx, p.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestPublish_AllFailedIsFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.twitter.PostErrs = []error{errors.New("down")}
	p, err := f.svc.Create(ctx, CreateInput{Content: "hello", Platforms: []models.Platform{models.PlatformTwitter}})
	require.NoError(t, err)

	got, res, err := f.svc.Publish(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, models.PostFailed, got.Status)

	got, res, err = f.svc.Publish(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.PostPublished, got.Status)
}

func TestUpdate_OnlyBeforePublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, CreateInput{Content: "hello", Platforms: both()})
	require.NoError(t, err)

	text := "edited"
	later := fixedNow.Add(time.Hour)
	got, err := f.svc.Update(ctx, p.ID, UpdateInput{Content: &text, ScheduledAt: &later})
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Content)
	assert.Equal(t, models.PostScheduled, got.Status)

	_, _, err = f.svc.Publish(ctx, p.ID)
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, p.ID, UpdateInput{Content: &text})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDelete_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Delete(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	p, err := f.svc.Create(ctx, CreateInput{Content: "hello", Platforms: both()})
	require.NoError(t, err)

	already, err := f.svc.Delete(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, already)

	already, err = f.svc.Delete(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, already)

	_, _, err = f.svc.Publish(ctx, p.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDispatchDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soon := fixedNow.Add(time.Minute)
	later := fixedNow.Add(time.Hour)

	due, err := f.svc.Create(ctx, CreateInput{Content: "due", Platforms: []models.Platform{models.PlatformTwitter}, ScheduledAt: &soon})
	require.NoError(t, err)
	notYet, err := f.svc.Create(ctx, CreateInput{Content: "later", Platforms: []models.Platform{models.PlatformTwitter}, ScheduledAt: &later})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return fixedNow.Add(2 * time.Minute) }
	sum, err := f.svc.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{Due: 1, Published: 1}, sum)

	got, err := f.store.GetPost(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostPublished, got.Status)
	got, err = f.store.GetPost(ctx, notYet.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostScheduled, got.Status)
}

func TestLaunchCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.CreateCampaign(ctx, CampaignInput{Name: "spring", Platforms: both(), OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, models.CampaignDraft, c.Status)

	for _, text := range []string{"one", "two"} {
		_, err := f.svc.Create(ctx, CreateInput{Content: text, Platforms: []models.Platform{models.PlatformTwitter}, CampaignID: c.ID})
		require.NoError(t, err)
	}
	f.twitter.PostErrs = []error{nil, errors.New("suspended")}

	sum, err := f.svc.LaunchCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Published)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, models.CampaignActive, sum.Campaign.Status)

	members, err := f.svc.CampaignPosts(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	paused, err := f.svc.PauseCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignPaused, paused.Status)
	_, err = f.svc.PauseCampaign(ctx, c.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestUpdateCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.CreateCampaign(ctx, CampaignInput{Name: "spring", Platforms: both()})
	require.NoError(t, err)

	got, err := f.svc.UpdateCampaign(ctx, c.ID, CampaignInput{Status: models.CampaignCompleted})
	require.NoError(t, err)
	assert.Equal(t, "spring", got.Name)
	assert.Equal(t, models.CampaignCompleted, got.Status)

	_, err = f.svc.LaunchCampaign(ctx, c.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.UpdateCampaign(ctx, c.ID, CampaignInput{Status: "archived"})
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)

	require.NoError(t, f.svc.DeleteCampaign(ctx, c.ID))
	_, err = f.svc.GetCampaign(ctx, c.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGet_SoftDeletedIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, CreateInput{Content: "hello", Platforms: both()})
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, p.ID)
	require.NoError(t, err)

	_, err = f.svc.Delete(ctx, p.ID)
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, p.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPublish_ConcurrentPublishSendsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Create(ctx, CreateInput{Content: "hello", Platforms: []models.Platform{models.PlatformTwitter}})
	require.NoError(t, err)

	var second error
	f.twitter.OnPost = func(ctx context.Context) {
		f.twitter.OnPost = nil
		_, _, second = f.svc.Publish(ctx, p.ID)
	}

	got, res, err := f.svc.Publish(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.PostPublished, got.Status)
	assert.ErrorIs(t, second, ErrInvalidState)
	assert.Equal(t, 1, f.twitter.PostCount())
}

func TestPublish_StalePublishingIsReclaimed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stuck := fixedNow.Add(-time.Hour)
	require.NoError(t, f.store.CreatePost(ctx, &models.Post{
		ID: "p1", Content: "hello", Platforms: []models.Platform{models.PlatformTwitter},
		Status: models.PostPublishing, CreatedAt: stuck, UpdatedAt: stuck,
	}))
	require.NoError(t, f.store.CreatePost(ctx, &models.Post{
		ID: "p2", Content: "hello", Platforms: []models.Platform{models.PlatformTwitter},
		Status: models.PostPublishing, CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}))

	got, _, err := f.svc.Publish(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.PostPublished, got.Status)

	_, _, err = f.svc.Publish(ctx, "p2")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, f.twitter.PostCount())
}

// cancelAwareStore fails conditional writes once the caller's context is done.
type cancelAwareStore struct {
	*storage.MemoryStorage
}

func (s cancelAwareStore) UpdatePostIf(ctx context.Context, p *models.Post, expect models.PostStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStorage.UpdatePostIf(ctx, p, expect)
}

func TestPublish_RecordsOutcomeAfterCancel(t *testing.T) {
	store := storage.NewMemoryStorage()
	tw := platformtest.New(models.PlatformTwitter)
	pub := publisher.New(platformtest.Clients{models.PlatformTwitter: tw}, nil, nil)
	svc := NewService(cancelAwareStore{store}, pub, nil, nil)
	svc.now = func() time.Time { return fixedNow }

	p, err := svc.Create(context.Background(), CreateInput{Content: "hello", Platforms: []models.Platform{models.PlatformTwitter}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	tw.OnPost = func(context.Context) { cancel() }

	_, res, err := svc.Publish(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)

	stored, err := store.GetPost(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostPublished, stored.Status)
	assert.Equal(t, "twitter-1", stored.PlatformData.Twitter.TweetID)
}

// claimingStore lets another dispatcher claim every post right after it is listed.
type claimingStore struct {
	*storage.MemoryStorage
}

func (s claimingStore) ListPosts(ctx context.Context, f storage.PostFilter) ([]models.Post, error) {
	listed, err := s.MemoryStorage.ListPosts(ctx, f)
	if err != nil {
		return nil, err
	}
	for _, p := range listed {
		claimed := p
		claimed.Status = models.PostPublishing
		if err := s.MemoryStorage.UpdatePostIf(ctx, &claimed, p.Status); err != nil {
			return nil, err
		}
	}
	return listed, nil
}

func TestDispatchDue_SkipsClaimedPosts(t *testing.T) {
	store := storage.NewMemoryStorage()
	tw := platformtest.New(models.PlatformTwitter)
	pub := publisher.New(platformtest.Clients{models.PlatformTwitter: tw}, nil, nil)
	svc := NewService(claimingStore{store}, pub, nil, nil)
	svc.now = func() time.Time { return fixedNow }

	ctx := context.Background()
	soon := fixedNow.Add(time.Minute)
	_, err := svc.Create(ctx, CreateInput{Content: "due", Platforms: []models.Platform{models.PlatformTwitter}, ScheduledAt: &soon})
	require.NoError(t, err)

	svc.now = func() time.Time { return fixedNow.Add(2 * time.Minute) }
	sum, err := svc.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{Due: 1, Skipped: 1}, sum)
	assert.Zero(t, tw.PostCount())
}
