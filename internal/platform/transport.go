package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/retry"
)

const (
	maxResponseSize = 10 * 1024 * 1024 // 10MB
	maxMediaSize    = 15 * 1024 * 1024 // 15MB
)

// Options are shared by every client the registry builds.
type Options struct {
	Timeout         time.Duration
	PublishInterval time.Duration
	Transport       retry.TransportConfig
	// HTTPClient is the base client; tests point it at httptest servers.
	HTTPClient *http.Client
}

// OptionsFromConfig derives client options from the platforms section.
func OptionsFromConfig(cfg config.PlatformsConfig) Options {
	return Options{
		Timeout:         cfg.Timeout,
		PublishInterval: cfg.PublishInterval,
		Transport:       retry.DefaultTransportConfig(),
	}
}

func (o Options) base() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: o.Timeout}
}

// authorized wraps the base client with an oauth2 token source.
func (o Options) authorized(ts oauth2.TokenSource) *http.Client {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, o.base())
	c := oauth2.NewClient(ctx, ts)
	c.Timeout = o.Timeout
	return c
}

// transport issues JSON calls to one platform. Writes wait on the limiter so
// consecutive publishes stay within the platform's pacing rules, and are only
// resent when the connection was never established.
type transport struct {
	platform models.Platform
	client   *http.Client
	plain    *http.Client // media downloads never carry platform credentials
	exec     failsafe.Executor[*http.Response]
	writes   failsafe.Executor[*http.Response]
	limiter  *rate.Limiter
	header   http.Header
}

func newTransport(p models.Platform, client *http.Client, opts Options) *transport {
	limit := rate.Inf
	if opts.PublishInterval > 0 {
		limit = rate.Every(opts.PublishInterval)
	}
	return &transport{
		platform: p,
		client:   client,
		plain:    opts.base(),
		exec:     retry.NewHTTPExecutor(opts.Transport),
		writes:   retry.NewWriteExecutor(opts.Transport),
		limiter:  rate.NewLimiter(limit, 1),
		header:   http.Header{},
	}
}

type call struct {
	method      string
	url         string
	body        []byte
	contentType string
	write       bool
}

func (t *transport) do(ctx context.Context, c call, out interface{}) error {
	exec := t.exec
	if c.write {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s rate limiter: %w", t.platform, err)
		}
		exec = t.writes
	}

	resp, err := retry.DoHTTP(ctx, exec, t.client, func(ctx context.Context) (*http.Request, error) {
		var body io.Reader
		if c.body != nil {
			body = bytes.NewReader(c.body)
		}
		req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		for k, vs := range t.header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if c.contentType != "" {
			req.Header.Set("Content-Type", c.contentType)
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("%s request failed: %w", t.platform, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", t.platform, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Platform: t.platform, StatusCode: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", t.platform, err)
	}
	return nil
}

func (t *transport) getJSON(ctx context.Context, url string, out interface{}) error {
	return t.do(ctx, call{method: http.MethodGet, url: url}, out)
}

func (t *transport) postJSON(ctx context.Context, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return t.do(ctx, call{method: http.MethodPost, url: url, body: body, contentType: "application/json", write: true}, out)
}

// download fetches media bytes for platforms that need uploads.
func (t *transport) download(ctx context.Context, m Media) ([]byte, string, error) {
	if len(m.Data) > 0 {
		return m.Data, m.ContentType, nil
	}
	if m.URL == "" {
		return nil, "", fmt.Errorf("media has neither data nor URL")
	}

	resp, err := retry.DoHTTP(ctx, t.exec, t.plain, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media: %w", err)
	}
	if len(data) > maxMediaSize {
		return nil, "", fmt.Errorf("media exceeds %d bytes", maxMediaSize)
	}
	contentType := m.ContentType
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	return data, contentType, nil
}

// errorMessage extracts the human-readable part of an error body.
func errorMessage(body []byte, status string) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"detail", "message", "title", "error"} {
			if s, ok := payload[key].(string); ok && s != "" {
				return s
			}
		}
		if errs, ok := payload["errors"].([]interface{}); ok && len(errs) > 0 {
			if first, ok := errs[0].(map[string]interface{}); ok {
				if s, ok := first["message"].(string); ok {
					return s
				}
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return status
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
