package platform

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/models"
)

const twitterMetricsBatch = 100

// Twitter talks to the X API: v2 for tweets and search, v1.1 for media.
type Twitter struct {
	read      *transport
	write     *transport
	baseURL   string
	uploadURL string
	handle    string
}

// TwitterMissing lists the credentials cfg lacks.
func TwitterMissing(cfg config.TwitterConfig) []string {
	if cfg.BearerToken == "" && cfg.AccessToken == "" {
		return []string{"bearer_token"}
	}
	return nil
}

// NewTwitter builds a client. The user access token, when set, is used for
// writes; the app bearer token for reads.
func NewTwitter(cfg config.TwitterConfig, opts Options) (*Twitter, error) {
	if missing := TwitterMissing(cfg); len(missing) > 0 {
		return nil, &SetupError{Platform: models.PlatformTwitter, Missing: missing}
	}
	readToken, writeToken := cfg.BearerToken, cfg.AccessToken
	if readToken == "" {
		readToken = writeToken
	}
	if writeToken == "" {
		writeToken = readToken
	}

	source := func(tok string) oauth2.TokenSource {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"})
	}
	return &Twitter{
		read:      newTransport(models.PlatformTwitter, opts.authorized(source(readToken)), opts),
		write:     newTransport(models.PlatformTwitter, opts.authorized(source(writeToken)), opts),
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		uploadURL: strings.TrimRight(cfg.UploadURL, "/"),
		handle:    cfg.Handle,
	}, nil
}

// Name implements Client.
func (t *Twitter) Name() models.Platform { return models.PlatformTwitter }

// MetricsBatchSize implements Client.
func (t *Twitter) MetricsBatchSize() int { return twitterMetricsBatch }

type tweetPayload struct {
	Text         string        `json:"text"`
	Reply        *tweetReply   `json:"reply,omitempty"`
	QuoteTweetID string        `json:"quote_tweet_id,omitempty"`
	Media        *tweetMediaIn `json:"media,omitempty"`
}

type tweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type tweetMediaIn struct {
	MediaIDs []string `json:"media_ids"`
}

// Post creates a tweet. At most four media IDs are attached.
func (t *Twitter) Post(ctx context.Context, req PostRequest) (PostResult, error) {
	payload := tweetPayload{Text: req.Text, QuoteTweetID: req.QuoteOf}
	if req.ReplyTo != "" {
		payload.Reply = &tweetReply{InReplyToTweetID: req.ReplyTo}
	}
	if len(req.MediaIDs) > 0 {
		ids := req.MediaIDs
		if len(ids) > models.MaxTwitterMedia {
			ids = ids[:models.MaxTwitterMedia]
		}
		payload.Media = &tweetMediaIn{MediaIDs: ids}
	}

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := t.write.postJSON(ctx, t.baseURL+"/2/tweets", payload, &resp); err != nil {
		return PostResult{}, err
	}
	if resp.Data.ID == "" {
		return PostResult{}, fmt.Errorf("twitter returned no tweet id")
	}
	return PostResult{ID: resp.Data.ID, URL: t.tweetURL(resp.Data.ID)}, nil
}

func (t *Twitter) tweetURL(id string) string {
	handle := t.handle
	if handle == "" {
		handle = "i"
	}
	return fmt.Sprintf("https://x.com/%s/status/%s", strings.TrimPrefix(handle, "@"), id)
}

// UploadMedia sends one image through the v1.1 simple upload endpoint.
func (t *Twitter) UploadMedia(ctx context.Context, m Media) (string, error) {
	data, _, err := t.write.download(ctx, m)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("media", "media")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write media: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close form: %w", err)
	}

	var resp struct {
		MediaIDString string `json:"media_id_string"`
	}
	err = t.write.do(ctx, call{
		method:      http.MethodPost,
		url:         t.uploadURL + "/1.1/media/upload.json",
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.MediaIDString == "" {
		return "", fmt.Errorf("twitter returned no media id")
	}
	return resp.MediaIDString, nil
}

type tweetData struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	AuthorID       string    `json:"author_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	PublicMetrics  struct {
		LikeCount       int `json:"like_count"`
		RetweetCount    int `json:"retweet_count"`
		ReplyCount      int `json:"reply_count"`
		ImpressionCount int `json:"impression_count"`
	} `json:"public_metrics"`
}

type tweetUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Location string `json:"location"`
}

type tweetList struct {
	Data     []tweetData `json:"data"`
	Includes struct {
		Users []tweetUser `json:"users"`
	} `json:"includes"`
}

func (l tweetList) candidates() []models.Candidate {
	users := make(map[string]tweetUser, len(l.Includes.Users))
	for _, u := range l.Includes.Users {
		users[u.ID] = u
	}
	out := make([]models.Candidate, 0, len(l.Data))
	for _, tw := range l.Data {
		u := users[tw.AuthorID]
		author := u.Username
		if author == "" {
			author = tw.AuthorID
		}
		out = append(out, models.Candidate{
			Platform:  models.PlatformTwitter,
			MessageID: tw.ID,
			Author:    author,
			Text:      tw.Text,
			URL:       fmt.Sprintf("https://x.com/%s/status/%s", author, tw.ID),
			Location:  u.Location,
			CreatedAt: tw.CreatedAt,
		})
	}
	return out
}

// Search queries recent tweets. The API accepts 10..100 results per page.
func (t *Twitter) Search(ctx context.Context, query string, limit int) ([]models.Candidate, error) {
	limit = min(max(limit, 10), 100)
	q := url.Values{}
	q.Set("query", query)
	q.Set("max_results", strconv.Itoa(limit))
	q.Set("tweet.fields", "created_at,author_id,conversation_id,public_metrics")
	q.Set("expansions", "author_id")
	q.Set("user.fields", "username,location")

	var resp tweetList
	if err := t.read.getJSON(ctx, t.baseURL+"/2/tweets/search/recent?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.candidates(), nil
}

// FetchMetrics looks up public metrics for up to 100 tweets.
func (t *Twitter) FetchMetrics(ctx context.Context, ids []string) (map[string]models.Engagement, error) {
	if len(ids) == 0 {
		return map[string]models.Engagement{}, nil
	}
	if len(ids) > twitterMetricsBatch {
		return nil, fmt.Errorf("twitter metrics batch of %d exceeds %d", len(ids), twitterMetricsBatch)
	}
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("tweet.fields", "public_metrics")

	var resp tweetList
	if err := t.read.getJSON(ctx, t.baseURL+"/2/tweets?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	out := make(map[string]models.Engagement, len(resp.Data))
	for _, tw := range resp.Data {
		out[tw.ID] = models.Engagement{
			Likes:       tw.PublicMetrics.LikeCount,
			Retweets:    tw.PublicMetrics.RetweetCount,
			Replies:     tw.PublicMetrics.ReplyCount,
			Impressions: tw.PublicMetrics.ImpressionCount,
		}
	}
	return out, nil
}

// FetchReplies searches the conversation rooted at id.
func (t *Twitter) FetchReplies(ctx context.Context, id string) ([]models.Candidate, error) {
	return t.Search(ctx, "conversation_id:"+id, 100)
}

// Test fetches the authenticated user.
func (t *Twitter) Test(ctx context.Context) error {
	var resp struct {
		Data struct {
			Username string `json:"username"`
		} `json:"data"`
	}
	return t.write.getJSON(ctx, t.baseURL+"/2/users/me", &resp)
}
