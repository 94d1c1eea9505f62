package sniper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/drafts"
	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/platform/platformtest"
	"github.com/cyderes/social-autopilot/internal/scoring"
	"github.com/cyderes/social-autopilot/internal/storage"
)

var huntNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// textScorer scores candidates by their text.
type textScorer map[string]int

func (s textScorer) Score(_ context.Context, c models.Candidate, _ models.CampaignType) (int, error) {
	if score, ok := s[c.Text]; ok {
		return score, nil
	}
	return 0, errors.New("scorer unavailable")
}

type stubGenerator struct {
	calls int
}

func (g *stubGenerator) Generate(_ context.Context, c models.Candidate, campaign models.CampaignType, strategy models.Strategy, score int) (*models.Draft, error) {
	g.calls++
	return &models.Draft{
		Platform:        c.Platform,
		SourceMessageID: c.MessageID,
		SourceText:      c.Text,
		ReplyText:       "reply to " + c.MessageID,
		CampaignType:    campaign.Name,
		Strategy:        strategy.Name,
		ActionType:      strategy.Action,
		Score:           score,
	}, nil
}

type huntFixture struct {
	sched   *Scheduler
	store   *storage.MemoryStorage
	state   *MemoryState
	twitter *platformtest.Fake
	gen     *stubGenerator
}

func candidate(id, text string) models.Candidate {
	return models.Candidate{Platform: models.PlatformTwitter, MessageID: id, Author: "@" + id, Text: text}
}

func newHuntFixture(t *testing.T, quota int, scores textScorer) *huntFixture {
	t.Helper()
	catalog, err := ParseCatalog([]byte(`
campaigns:
  - name: travel
    keywords: ["kyoto", "lisbon"]
    platforms: [twitter]
    strategies:
      - name: helpful
      - name: arena
        style: comparison
        action: quote
  - name: food
    keywords: ["ramen"]
    platforms: [twitter, reddit]
    strategies:
      - name: foodie
`))
	require.NoError(t, err)

	store := storage.NewMemoryStorage()
	tw := platformtest.New(models.PlatformTwitter)
	state := NewMemoryState()
	gen := &stubGenerator{}
	svc := drafts.NewService(drafts.Dependencies{Store: store, Threshold: 80, Now: func() time.Time { return huntNow }})

	sched := NewScheduler(Dependencies{
		Config:    config.SniperConfig{Enabled: true, Interval: time.Hour, DailyQuota: quota, SearchLimit: 10},
		State:     state,
		Catalog:   catalog,
		Clients:   platformtest.Clients{models.PlatformTwitter: tw},
		Filter:    scoring.NewFilter(scores, 80),
		Generator: gen,
		Drafts:    svc,
		Sources:   store,
		Now:       func() time.Time { return huntNow },
	})
	return &huntFixture{sched: sched, store: store, state: state, twitter: tw, gen: gen}
}

func TestHunt_CreatesDraftsAboveThreshold(t *testing.T) {
	f := newHuntFixture(t, 10, textScorer{"golden pavilion at dawn?": 92, "meh": 40, "best tram line": 85})
	f.twitter.Results = map[string][]models.Candidate{
		"kyoto":  {candidate("t1", "golden pavilion at dawn?"), candidate("t2", "meh")},
		"lisbon": {candidate("t3", "best tram line"), candidate("t1", "golden pavilion at dawn?")},
	}
	ctx := context.Background()

	res, err := f.sched.Hunt(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "travel", res.Campaign)
	assert.Equal(t, "helpful", res.Strategy)
	assert.Equal(t, 3, res.Searched)
	assert.Equal(t, 3, res.Scored)
	assert.Equal(t, 1, res.BelowThreshold)
	assert.Equal(t, 2, res.Created)
	assert.Empty(t, res.Errors)

	d, err := f.store.GetDraftBySource(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.DraftPendingReview, d.Status)
	assert.Equal(t, 92, d.Score)

	count, err := f.state.DailyCount(ctx, "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	running, err := f.state.Running(ctx)
	require.NoError(t, err)
	assert.False(t, running)

	last, err := f.state.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 2, last.Created)
}

func TestHunt_SkipsExistingDrafts(t *testing.T) {
	f := newHuntFixture(t, 10, textScorer{"golden pavilion at dawn?": 92})
	f.twitter.Results = map[string][]models.Candidate{"kyoto": {candidate("t1", "golden pavilion at dawn?")}}
	ctx := context.Background()

	_, err := f.sched.Hunt(ctx, false)
	require.NoError(t, err)
	res, err := f.sched.Hunt(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, f.gen.calls)
}

func TestHunt_StopsAtDailyQuota(t *testing.T) {
	f := newHuntFixture(t, 2, textScorer{"a": 90, "b": 90, "c": 90})
	f.twitter.Results = map[string][]models.Candidate{
		"kyoto": {candidate("t1", "a"), candidate("t2", "b"), candidate("t3", "c")},
	}
	ctx := context.Background()

	res, err := f.sched.Hunt(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, "quota", res.Skipped)

	res, err = f.sched.Hunt(ctx, true)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, f.gen.calls)
}

func TestHunt_PausedIsNoop(t *testing.T) {
	f := newHuntFixture(t, 10, textScorer{"a": 90})
	f.twitter.Results = map[string][]models.Candidate{"kyoto": {candidate("t1", "a")}}
	ctx := context.Background()

	require.NoError(t, f.sched.Pause(ctx, ""))
	res, err := f.sched.Hunt(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "paused", res.Skipped)
	assert.Equal(t, 0, f.gen.calls)

	require.NoError(t, f.sched.Resume(ctx, "travel"))
	res, err = f.sched.Hunt(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	assert.ErrorIs(t, f.sched.Pause(ctx, "nope"), ErrUnknownCampaign)
}

func TestHunt_DisabledUnlessForced(t *testing.T) {
	f := newHuntFixture(t, 10, textScorer{"a": 90})
	f.sched.cfg.Enabled = false
	f.twitter.Results = map[string][]models.Candidate{"kyoto": {candidate("t1", "a")}}

	res, err := f.sched.Hunt(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "disabled", res.Skipped)

	res, err = f.sched.Hunt(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, res.Forced)
	assert.Equal(t, 1, res.Created)
}

func TestHunt_RejectsOverlapAndReset(t *testing.T) {
	f := newHuntFixture(t, 10, textScorer{})
	ctx := context.Background()

	ok, err := f.state.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.sched.Hunt(ctx, true)
	assert.ErrorIs(t, err, ErrHuntRunning)

	require.NoError(t, f.sched.Reset(ctx))
	_, err = f.sched.Hunt(ctx, true)
	assert.NoError(t, err)
}

func TestHunt_CollectsCandidateErrors(t *testing.T) {
	f := newHuntFixture(t, 10, textScorer{"good": 95})
	f.twitter.Results = map[string][]models.Candidate{
		"kyoto": {candidate("t1", "unscorable"), candidate("t2", "good")},
	}

	res, err := f.sched.Hunt(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "t1")
	assert.Equal(t, 1, res.Created)
}

func TestHunt_MissingPlatformIsReported(t *testing.T) {
	f := newHuntFixture(t, 10, textScorer{"slurp": 90})
	f.twitter.Results = map[string][]models.Candidate{"ramen": {candidate("t1", "slurp")}}
	ctx := context.Background()

	_, err := f.sched.SetCampaign(ctx, "food")
	require.NoError(t, err)

	res, err := f.sched.Hunt(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "food", res.Campaign)
	assert.Equal(t, "foodie", res.Strategy)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "reddit")
}

func TestSelection(t *testing.T) {
	f := newHuntFixture(t, 10, textScorer{})
	ctx := context.Background()

	st, err := f.sched.SetStrategy(ctx, "arena")
	require.NoError(t, err)
	assert.Equal(t, models.StyleComparison, st.Style)

	_, err = f.sched.SetStrategy(ctx, "foodie")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	_, err = f.sched.SetCampaign(ctx, "sports")
	assert.ErrorIs(t, err, ErrUnknownCampaign)

	status, err := f.sched.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "travel", status.Campaign)
	assert.Equal(t, "arena", status.Strategy)
	assert.Equal(t, 80, status.Threshold)
	assert.Equal(t, 10, status.DailyQuota)
	assert.False(t, status.Running)
	assert.Len(t, f.sched.Campaigns(), 2)
}
