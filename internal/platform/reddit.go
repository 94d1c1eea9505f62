package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/models"
)

const (
	redditMetricsBatch = 100
	redditTitleMax     = 300
)

// Reddit uses script-app OAuth2 (password grant) against oauth.reddit.com.
type Reddit struct {
	t         *transport
	baseURL   string
	subreddit string
}

// RedditMissing lists the credentials cfg lacks.
func RedditMissing(cfg config.RedditConfig) []string {
	var missing []string
	for name, v := range map[string]string{
		"client_id":     cfg.ClientID,
		"client_secret": cfg.ClientSecret,
		"username":      cfg.Username,
		"password":      cfg.Password,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

type userAgentTransport struct {
	rt http.RoundTripper
	ua string
}

func (u userAgentTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", u.ua)
	return u.rt.RoundTrip(r)
}

type passwordSource struct {
	ctx                context.Context
	conf               *oauth2.Config
	username, password string
}

func (s passwordSource) Token() (*oauth2.Token, error) {
	return s.conf.PasswordCredentialsToken(s.ctx, s.username, s.password)
}

// NewReddit builds a client. Tokens are fetched lazily and reused until expiry.
func NewReddit(cfg config.RedditConfig, opts Options) (*Reddit, error) {
	if missing := RedditMissing(cfg); len(missing) > 0 {
		return nil, &SetupError{Platform: models.PlatformReddit, Missing: missing}
	}

	base := opts.base()
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	uaClient := &http.Client{Timeout: base.Timeout, Transport: userAgentTransport{rt: rt, ua: cfg.UserAgent}}
	opts.HTTPClient = uaClient

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, uaClient)
	ts := oauth2.ReuseTokenSource(nil, passwordSource{ctx: tokenCtx, conf: conf, username: cfg.Username, password: cfg.Password})

	return &Reddit{
		t:         newTransport(models.PlatformReddit, opts.authorized(ts), opts),
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		subreddit: cfg.Subreddit,
	}, nil
}

// Name implements Client.
func (r *Reddit) Name() models.Platform { return models.PlatformReddit }

// MetricsBatchSize implements Client.
func (r *Reddit) MetricsBatchSize() int { return redditMetricsBatch }

func (r *Reddit) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	return r.t.do(ctx, call{
		method:      http.MethodPost,
		url:         r.baseURL + path,
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		write:       true,
	}, out)
}

type redditThing struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Author      string  `json:"author"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Body        string  `json:"body"`
	Permalink   string  `json:"permalink"`
	URL         string  `json:"url"`
	Subreddit   string  `json:"subreddit"`
	Score       int     `json:"score"`
	Ups         int     `json:"ups"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}

type redditListing struct {
	Data struct {
		Children []struct {
			Kind string      `json:"kind"`
			Data redditThing `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditJSONResponse struct {
	JSON struct {
		Errors [][]interface{} `json:"errors"`
		Data   struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			URL    string `json:"url"`
			Things []struct {
				Data redditThing `json:"data"`
			} `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

// apiErr converts the errors array reddit returns with a 200.
func (resp redditJSONResponse) apiErr() error {
	if len(resp.JSON.Errors) == 0 {
		return nil
	}
	status := http.StatusBadRequest
	parts := make([]string, 0, len(resp.JSON.Errors))
	for _, e := range resp.JSON.Errors {
		strs := make([]string, 0, len(e))
		for _, v := range e {
			if s, ok := v.(string); ok && s != "" {
				strs = append(strs, s)
			}
		}
		if len(strs) > 0 && strs[0] == "RATELIMIT" {
			status = http.StatusTooManyRequests
		}
		parts = append(parts, strings.Join(strs, ": "))
	}
	return &APIError{Platform: models.PlatformReddit, StatusCode: status, Message: strings.Join(parts, "; ")}
}

// Post comments on ReplyTo when set, otherwise submits to the configured
// subreddit: a link post for the first media URL, a self post otherwise.
func (r *Reddit) Post(ctx context.Context, req PostRequest) (PostResult, error) {
	if req.ReplyTo != "" {
		return r.comment(ctx, fullname(req.ReplyTo), req.Text)
	}
	if r.subreddit == "" {
		return PostResult{}, &SetupError{Platform: models.PlatformReddit, Missing: []string{"subreddit"}}
	}

	form := url.Values{}
	form.Set("api_type", "json")
	form.Set("sr", r.subreddit)
	form.Set("title", redditTitle(req))
	if len(req.MediaIDs) > 0 {
		form.Set("kind", "link")
		form.Set("url", req.MediaIDs[0])
	} else {
		form.Set("kind", "self")
		form.Set("text", req.Text)
	}

	var resp redditJSONResponse
	if err := r.postForm(ctx, "/api/submit", form, &resp); err != nil {
		return PostResult{}, err
	}
	if err := resp.apiErr(); err != nil {
		return PostResult{}, err
	}
	if resp.JSON.Data.ID == "" {
		return PostResult{}, fmt.Errorf("reddit returned no post id")
	}
	return PostResult{ID: resp.JSON.Data.ID, URL: resp.JSON.Data.URL}, nil
}

func (r *Reddit) comment(ctx context.Context, parent, text string) (PostResult, error) {
	form := url.Values{}
	form.Set("api_type", "json")
	form.Set("thing_id", parent)
	form.Set("text", text)

	var resp redditJSONResponse
	if err := r.postForm(ctx, "/api/comment", form, &resp); err != nil {
		return PostResult{}, err
	}
	if err := resp.apiErr(); err != nil {
		return PostResult{}, err
	}
	if len(resp.JSON.Data.Things) == 0 || resp.JSON.Data.Things[0].Data.Name == "" {
		return PostResult{}, fmt.Errorf("reddit returned no comment id")
	}
	c := resp.JSON.Data.Things[0].Data
	result := PostResult{ID: c.Name}
	if c.Permalink != "" {
		result.URL = "https://www.reddit.com" + c.Permalink
	}
	return result, nil
}

func redditTitle(req PostRequest) string {
	title := req.Title
	if title == "" {
		title, _, _ = strings.Cut(strings.TrimSpace(req.Text), "\n")
	}
	if len(title) > redditTitleMax {
		title = title[:redditTitleMax]
	}
	return title
}

// fullname prefixes bare IDs as links (t3_).
func fullname(id string) string {
	if len(id) > 3 && id[0] == 't' && id[2] == '_' {
		return id
	}
	return "t3_" + id
}

// UploadMedia returns the media URL; submissions link to it directly.
func (r *Reddit) UploadMedia(ctx context.Context, m Media) (string, error) {
	if m.URL == "" {
		return "", fmt.Errorf("reddit media requires a URL: %w", ErrUnsupported)
	}
	return m.URL, nil
}

func (r *Reddit) candidate(th redditThing) models.Candidate {
	text := th.Title
	if th.Selftext != "" {
		text = strings.TrimSpace(text + "\n\n" + th.Selftext)
	}
	if th.Body != "" {
		text = th.Body
	}
	c := models.Candidate{
		Platform:  models.PlatformReddit,
		MessageID: th.Name,
		Author:    th.Author,
		Text:      text,
		Topic:     th.Subreddit,
	}
	if th.Permalink != "" {
		c.URL = "https://www.reddit.com" + th.Permalink
	}
	if th.CreatedUTC > 0 {
		c.CreatedAt = time.Unix(int64(th.CreatedUTC), 0).UTC()
	}
	return c
}

// Search finds the newest links matching query.
func (r *Reddit) Search(ctx context.Context, query string, limit int) ([]models.Candidate, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("sort", "new")
	q.Set("type", "link")
	q.Set("limit", strconv.Itoa(min(max(limit, 1), 100)))

	var resp redditListing
	if err := r.t.getJSON(ctx, r.baseURL+"/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	out := make([]models.Candidate, 0, len(resp.Data.Children))
	for _, child := range resp.Data.Children {
		out = append(out, r.candidate(child.Data))
	}
	return out, nil
}

// FetchMetrics looks up up to 100 things by fullname.
func (r *Reddit) FetchMetrics(ctx context.Context, ids []string) (map[string]models.Engagement, error) {
	if len(ids) == 0 {
		return map[string]models.Engagement{}, nil
	}
	if len(ids) > redditMetricsBatch {
		return nil, fmt.Errorf("reddit metrics batch of %d exceeds %d", len(ids), redditMetricsBatch)
	}
	names := make([]string, len(ids))
	byName := make(map[string]string, len(ids))
	for i, id := range ids {
		names[i] = fullname(id)
		byName[names[i]] = id
	}

	var resp redditListing
	if err := r.t.getJSON(ctx, r.baseURL+"/api/info?id="+url.QueryEscape(strings.Join(names, ",")), &resp); err != nil {
		return nil, err
	}
	out := make(map[string]models.Engagement, len(resp.Data.Children))
	for _, child := range resp.Data.Children {
		id, ok := byName[child.Data.Name]
		if !ok {
			continue
		}
		likes := child.Data.Ups
		if likes == 0 {
			likes = child.Data.Score
		}
		out[id] = models.Engagement{Likes: likes, Replies: child.Data.NumComments}
	}
	return out, nil
}

// FetchReplies returns the top-level comments of a link.
func (r *Reddit) FetchReplies(ctx context.Context, id string) ([]models.Candidate, error) {
	bare := strings.TrimPrefix(fullname(id), "t3_")
	var resp []redditListing
	if err := r.t.getJSON(ctx, r.baseURL+"/comments/"+url.PathEscape(bare)+"?limit=100", &resp); err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return []models.Candidate{}, nil
	}
	out := make([]models.Candidate, 0, len(resp[1].Data.Children))
	for _, child := range resp[1].Data.Children {
		if child.Kind != "t1" {
			continue
		}
		out = append(out, r.candidate(child.Data))
	}
	return out, nil
}

// Test fetches the authenticated account.
func (r *Reddit) Test(ctx context.Context) error {
	return r.t.getJSON(ctx, r.baseURL+"/api/v1/me", nil)
}
