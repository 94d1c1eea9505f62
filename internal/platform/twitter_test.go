package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/retry"
)

func testOptions() Options {
	return Options{
		Timeout:   5 * time.Second,
		Transport: retry.TransportConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
}

func newTestTwitter(t *testing.T, handler http.HandlerFunc) *Twitter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tw, err := NewTwitter(config.TwitterConfig{
		BearerToken: "read-token",
		AccessToken: "write-token",
		BaseURL:     server.URL,
		UploadURL:   server.URL,
		Handle:      "@autopilot",
	}, testOptions())
	require.NoError(t, err)
	return tw
}

func TestNewTwitter_NeedsSetup(t *testing.T) {
	_, err := NewTwitter(config.TwitterConfig{}, testOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNeedsSetup)

	var se *SetupError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []string{"bearer_token"}, se.Missing)
}

func TestTwitter_PostReplyCapsMedia(t *testing.T) {
	var got tweetPayload
	tw := newTestTwitter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/tweets", r.URL.Path)
		assert.Equal(t, "Bearer write-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"1789","text":"hi"}}`))
	})

	res, err := tw.Post(context.Background(), PostRequest{
		Text:     "Kyoto in spring",
		ReplyTo:  "42",
		MediaIDs: []string{"m1", "m2", "m3", "m4", "m5"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1789", res.ID)
	assert.Equal(t, "https://x.com/autopilot/status/1789", res.URL)

	require.NotNil(t, got.Reply)
	assert.Equal(t, "42", got.Reply.InReplyToTweetID)
	require.NotNil(t, got.Media)
	assert.Len(t, got.Media.MediaIDs, models.MaxTwitterMedia)
}

func TestTwitter_PostRateLimited(t *testing.T) {
	calls := 0
	tw := newTestTwitter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"title":"Too Many Requests","detail":"Too Many Requests","status":429}`))
	})

	_, err := tw.Post(context.Background(), PostRequest{Text: "hello"})
	require.Error(t, err)
	assert.True(t, IsRateLimit(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	// 429 is left to the publish policy, not retried in the transport
	assert.Equal(t, 1, calls)
}

func TestTwitter_PostDoesNotResendOnGatewayError(t *testing.T) {
	calls := 0
	tw := newTestTwitter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := tw.Post(context.Background(), PostRequest{Text: "hello"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	// the tweet may already exist, so the write is not resent
	assert.Equal(t, 1, calls)
}

func TestTwitter_SearchRetriesGatewayErrors(t *testing.T) {
	calls := 0
	tw := newTestTwitter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	_, err := tw.Search(context.Background(), "kyoto travel", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestTwitter_Search(t *testing.T) {
	tw := newTestTwitter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/tweets/search/recent", r.URL.Path)
		assert.Equal(t, "kyoto travel", r.URL.Query().Get("query"))
		assert.Equal(t, "10", r.URL.Query().Get("max_results"))
		assert.Equal(t, "Bearer read-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"data":[{"id":"100","text":"best travel tips for Kyoto?","author_id":"u1","created_at":"2026-04-01T10:00:00Z"}],
			"includes":{"users":[{"id":"u1","username":"user123","location":"Osaka"}]}
		}`))
	})

	got, err := tw.Search(context.Background(), "kyoto travel", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "100", got[0].MessageID)
	assert.Equal(t, "user123", got[0].Author)
	assert.Equal(t, "Osaka", got[0].Location)
	assert.Equal(t, "https://x.com/user123/status/100", got[0].URL)
	assert.Equal(t, 2026, got[0].CreatedAt.Year())
}

func TestTwitter_FetchMetrics(t *testing.T) {
	tw := newTestTwitter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "a,b", r.URL.Query().Get("ids"))
		_, _ = w.Write([]byte(`{"data":[
			{"id":"a","public_metrics":{"like_count":5,"retweet_count":1,"reply_count":2,"impression_count":90}}
		]}`))
	})

	got, err := tw.FetchMetrics(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, models.Engagement{Likes: 5, Retweets: 1, Replies: 2, Impressions: 90}, got["a"])
	_, ok := got["b"]
	assert.False(t, ok)

	_, err = tw.FetchMetrics(context.Background(), make([]string, 101))
	assert.Error(t, err)
}

func TestTwitter_UploadMedia(t *testing.T) {
	tw := newTestTwitter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1.1/media/upload.json", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, _, err := r.FormFile("media")
		require.NoError(t, err)
		defer f.Close()
		_, _ = w.Write([]byte(`{"media_id_string":"555"}`))
	})

	id, err := tw.UploadMedia(context.Background(), Media{Data: []byte("png-bytes"), ContentType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, "555", id)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "bad things", errorMessage([]byte(`{"message":"bad things"}`), "400 Bad Request"))
	assert.Equal(t, "first", errorMessage([]byte(`{"errors":[{"message":"first"}]}`), "400 Bad Request"))
	assert.Equal(t, "plain text", errorMessage([]byte("plain text"), "400 Bad Request"))
	assert.Equal(t, "502 Bad Gateway", errorMessage(nil, "502 Bad Gateway"))
}

func TestAPIError_RateLimited(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: 429}).RateLimited())
	assert.True(t, (&APIError{StatusCode: 400, Message: "Rate limit exceeded"}).RateLimited())
	assert.False(t, (&APIError{StatusCode: 403, Message: "forbidden"}).RateLimited())
}
