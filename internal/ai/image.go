package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/failsafe-go/failsafe-go"
	"golang.org/x/oauth2"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/retry"
)

// ImageGenerator produces an image for a prompt and returns its URL.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ImageClient calls an OpenAI-compatible images endpoint.
type ImageClient struct {
	client  *http.Client
	exec    failsafe.Executor[*http.Response]
	baseURL string
	model   string
	size    string
}

// NewImageClient builds the client; httpClient may be nil.
func NewImageClient(cfg config.AIConfig, httpClient *http.Client) (*ImageClient, error) {
	if cfg.Image.APIKey == "" {
		return nil, fmt.Errorf("image model: %w", ErrNotConfigured)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Image.APIKey, TokenType: "Bearer"}))
	client.Timeout = cfg.Timeout

	return &ImageClient{
		client:  client,
		exec:    retry.NewHTTPExecutor(retry.DefaultTransportConfig()),
		baseURL: strings.TrimRight(cfg.Image.BaseURL, "/"),
		model:   cfg.Image.Model,
		size:    cfg.Image.Size,
	}, nil
}

type imageRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate implements ImageGenerator. Inline base64 answers are returned as
// data URLs so callers can rehost them.
func (c *ImageClient) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(imageRequest{Model: c.model, Prompt: prompt, N: 1, Size: c.size})
	if err != nil {
		return "", fmt.Errorf("marshaling image request: %w", err)
	}

	resp, err := retry.DoHTTP(ctx, c.exec, c.client, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("image request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32*1024*1024))
	if err != nil {
		return "", fmt.Errorf("reading image response: %w", err)
	}

	var out imageResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("image service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("image service returned status %d: %s", resp.StatusCode, msg)
	}
	if len(out.Data) == 0 {
		return "", fmt.Errorf("image service returned no images")
	}
	if out.Data[0].URL != "" {
		return out.Data[0].URL, nil
	}
	if out.Data[0].B64JSON != "" {
		return "data:image/png;base64," + out.Data[0].B64JSON, nil
	}
	return "", fmt.Errorf("image service returned an empty image")
}
