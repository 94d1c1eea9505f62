package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/drafts"
	"github.com/cyderes/social-autopilot/internal/generator"
	"github.com/cyderes/social-autopilot/internal/metricsync"
	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/platform"
	"github.com/cyderes/social-autopilot/internal/platform/platformtest"
	"github.com/cyderes/social-autopilot/internal/posts"
	"github.com/cyderes/social-autopilot/internal/publisher"
	"github.com/cyderes/social-autopilot/internal/retry"
	"github.com/cyderes/social-autopilot/internal/scoring"
	"github.com/cyderes/social-autopilot/internal/sniper"
	"github.com/cyderes/social-autopilot/internal/storage"
)

type staticText string

func (s staticText) Generate(context.Context, string) (string, error) { return string(s), nil }

type testServer struct {
	srv     *Server
	store   *storage.MemoryStorage
	drafts  *drafts.Service
	twitter *platformtest.Fake
}

func setupTestServer(t *testing.T, quota int) *testServer {
	t.Helper()
	cfg := config.Default()
	store := storage.NewMemoryStorage()

	registry := platform.NewRegistry(cfg.Platforms, platform.Options{})
	tw := platformtest.New(models.PlatformTwitter)
	registry.Set(tw)

	pub := publisher.New(registry, nil, nil)
	catalog, err := sniper.ParseCatalog([]byte(`
campaigns:
  - name: travel
    keywords: [kyoto]
    strategies:
      - name: helpful
`))
	require.NoError(t, err)

	gen := generator.New(staticText("Go at dawn."), nil)
	draftSvc := drafts.NewService(drafts.Dependencies{
		Store:       store,
		Publisher:   pub,
		Regenerator: gen,
		Campaigns:   catalog,
		Policy:      retry.NewPolicy(cfg.Retry),
		Threshold:   80,
	})
	sched := sniper.NewScheduler(sniper.Dependencies{
		Config:    config.SniperConfig{Enabled: true, Interval: time.Hour, DailyQuota: quota, SearchLimit: 10},
		Catalog:   catalog,
		Clients:   registry,
		Filter:    scoring.NewFilter(scoring.KeywordScorer{}, 80),
		Generator: gen,
		Drafts:    draftSvc,
		Sources:   store,
	})

	srv := New(Dependencies{
		Config:    cfg.Server,
		Store:     store,
		Drafts:    draftSvc,
		Posts:     posts.NewService(store, pub, nil, nil),
		Sniper:    sched,
		Syncer:    metricsync.New(store, registry, nil, nil),
		Platforms: registry,
	})
	return &testServer{srv: srv, store: store, drafts: draftSvc, twitter: tw}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (ts *testServer) seedDraft(t *testing.T, source string, score int) *models.Draft {
	t.Helper()
	d := &models.Draft{
		Platform:        models.PlatformTwitter,
		SourceMessageID: source,
		SourceText:      "kyoto in spring?",
		ReplyText:       "Philosopher's Path, early.",
		CampaignType:    "travel",
		Strategy:        "helpful",
		ActionType:      models.ActionReply,
		Score:           score,
	}
	require.NoError(t, ts.drafts.Create(context.Background(), d))
	return d
}

func TestHandleHealth(t *testing.T) {
	ts := setupTestServer(t, 10)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t, 10)
	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPosts(t *testing.T) {
	ts := setupTestServer(t, 10)

	t.Run("validation error is 400 with field", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/posts", map[string]interface{}{"content": "hi"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var body ErrorResponse
		decode(t, rec, &body)
		assert.Equal(t, "platforms", body.Field)
	})

	t.Run("unknown post is 404", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/posts/missing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("create publish delete", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/posts", map[string]interface{}{
			"content":   "hello",
			"platforms": []string{"twitter"},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		var p models.Post
		decode(t, rec, &p)
		assert.Equal(t, models.PostDraft, p.Status)

		rec = ts.do(t, http.MethodPost, "/api/posts/"+p.ID+"/publish", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var pub publishResponse
		decode(t, rec, &pub)
		assert.True(t, pub.Result.Success)
		assert.Equal(t, models.PostPublished, pub.Post.Status)

		rec = ts.do(t, http.MethodPost, "/api/posts/"+p.ID+"/publish", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = ts.do(t, http.MethodDelete, "/api/posts/"+p.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = ts.do(t, http.MethodDelete, "/api/posts/"+p.ID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "already_deleted")

		rec = ts.do(t, http.MethodGet, "/api/posts/"+p.ID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, "deleted posts are hidden")
	})
}

func TestCampaignLaunch(t *testing.T) {
	ts := setupTestServer(t, 10)
	rec := ts.do(t, http.MethodPost, "/api/campaigns", map[string]interface{}{
		"name":      "spring",
		"platforms": []string{"twitter"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var camp models.Campaign
	decode(t, rec, &camp)

	rec = ts.do(t, http.MethodPost, "/api/posts", map[string]interface{}{
		"content":    "cherry blossoms",
		"platforms":  []string{"twitter"},
		"campaignId": camp.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/campaigns/"+camp.ID+"/launch", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum posts.LaunchSummary
	decode(t, rec, &sum)
	assert.Equal(t, 1, sum.Published)
	assert.Equal(t, models.CampaignActive, sum.Campaign.Status)

	rec = ts.do(t, http.MethodPost, "/api/campaigns/"+camp.ID+"/pause", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/campaigns/"+camp.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDraftApprove(t *testing.T) {
	ts := setupTestServer(t, 10)
	d := ts.seedDraft(t, "1001", 92)

	rec := ts.do(t, http.MethodPost, "/api/postcard-drafts/"+d.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Draft
	decode(t, rec, &got)
	assert.Equal(t, models.DraftPublished, got.Status)
	assert.Equal(t, "twitter-1", got.PlatformPostID)

	rec = ts.do(t, http.MethodPost, "/api/postcard-drafts/"+d.ID+"/reject", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDraftApprove_RateLimited(t *testing.T) {
	ts := setupTestServer(t, 10)
	d := ts.seedDraft(t, "1001", 92)
	ts.twitter.PostErrs = []error{platformtest.RateLimited(models.PlatformTwitter)}

	rec := ts.do(t, http.MethodPost, "/api/postcard-drafts/"+d.ID+"/approve", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body ErrorResponse
	decode(t, rec, &body)
	require.NotNil(t, body.Draft)
	assert.Equal(t, models.DraftPendingRetry, body.Draft.Status)
	assert.Equal(t, 1, body.Draft.PublishAttempts)

	rec = ts.do(t, http.MethodPost, "/api/postcard-drafts/"+d.ID+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Draft
	decode(t, rec, &got)
	assert.Equal(t, models.DraftPublished, got.Status)
}

func TestDraftListing(t *testing.T) {
	ts := setupTestServer(t, 10)
	ts.seedDraft(t, "1", 85)
	ts.seedDraft(t, "2", 97)
	ts.seedDraft(t, "3", 90)

	rec := ts.do(t, http.MethodGet, "/api/postcard-drafts/top?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var top []models.Draft
	decode(t, rec, &top)
	require.Len(t, top, 2)
	assert.Equal(t, 97, top[0].Score)
	assert.Equal(t, 90, top[1].Score)

	rec = ts.do(t, http.MethodGet, "/api/postcard-drafts?status=pending_review&minScore=88", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Drafts    []models.Draft `json:"drafts"`
		Threshold int            `json:"threshold"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Drafts, 2)
	assert.Equal(t, 80, list.Threshold)

	rec = ts.do(t, http.MethodGet, "/api/postcard-drafts?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkApprove(t *testing.T) {
	ts := setupTestServer(t, 10)
	a := ts.seedDraft(t, "1", 90)
	b := ts.seedDraft(t, "2", 91)

	rec := ts.do(t, http.MethodPost, "/api/postcard-drafts/bulk-approve", bulkRequest{IDs: []string{a.ID, "missing", b.ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	var res drafts.BulkResult
	decode(t, rec, &res)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.FailCount)

	rec = ts.do(t, http.MethodPost, "/api/postcard-drafts/bulk-approve", bulkRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlatformTest(t *testing.T) {
	ts := setupTestServer(t, 10)

	rec := ts.do(t, http.MethodPost, "/api/platforms/discord/test", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res TestResult
	decode(t, rec, &res)
	assert.Equal(t, models.ConnectionNeedsSetup, res.Status)
	assert.NotEmpty(t, res.Missing)

	rec = ts.do(t, http.MethodPost, "/api/platforms/twitter/test", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &res)
	assert.Equal(t, models.ConnectionConnected, res.Status)

	conn, err := ts.store.GetConnection(context.Background(), models.PlatformTwitter)
	require.NoError(t, err)
	assert.NotNil(t, conn.LastTestedAt)

	rec = ts.do(t, http.MethodPost, "/api/platforms/myspace/test", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/platforms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []PlatformStatus
	decode(t, rec, &rows)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].Configured)
	assert.False(t, rows[1].Configured)
}

func TestSniperHunt(t *testing.T) {
	ts := setupTestServer(t, 1)
	ts.twitter.Results = map[string][]models.Candidate{
		"kyoto": {
			{Platform: models.PlatformTwitter, MessageID: "t1", Author: "@a", Text: "kyoto tips please"},
			{Platform: models.PlatformTwitter, MessageID: "t2", Author: "@b", Text: "kyoto or osaka?"},
		},
	}

	rec := ts.do(t, http.MethodPost, "/api/sniper/hunt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res sniper.HuntResult
	decode(t, rec, &res)
	assert.Equal(t, 1, res.Created)
	assert.True(t, res.Forced)

	rec = ts.do(t, http.MethodPost, "/api/sniper/hunt", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/sniper/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st sniper.Status
	decode(t, rec, &st)
	assert.Equal(t, 1, st.DailyCount)
	assert.Equal(t, "travel", st.Campaign)
	require.NotNil(t, st.LastRun)

	rec = ts.do(t, http.MethodPut, "/api/sniper/campaign", selectRequest{Name: "sports"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/sniper/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &st)
	assert.True(t, st.Paused)
}

func TestMetricsSyncAndAnalytics(t *testing.T) {
	ts := setupTestServer(t, 10)
	d := ts.seedDraft(t, "1001", 92)
	rec := ts.do(t, http.MethodPost, "/api/postcard-drafts/"+d.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ts.twitter.Metrics = map[string]models.Engagement{"twitter-1": {Likes: 7}}

	rec = ts.do(t, http.MethodPost, "/api/metrics-sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res metricsync.Result
	decode(t, rec, &res)
	assert.Equal(t, 2, res.Updated)

	rec = ts.do(t, http.MethodGet, "/api/analytics/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum Summary
	decode(t, rec, &sum)
	assert.Equal(t, 1, sum.Drafts[models.DraftPublished])
	assert.Equal(t, 1, sum.Posts[models.PostPublished])
	assert.Equal(t, 7, sum.Engagement.Likes)
	assert.InDelta(t, 1.0, sum.PublishRate, 0.001)
}
