// Package ai wraps the text and image generation services.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/cyderes/social-autopilot/internal/config"
)

// ErrNotConfigured is returned when a service has no API key.
var ErrNotConfigured = errors.New("ai service not configured")

// TextGenerator produces text for a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// LangChainText generates text through a langchaingo model.
type LangChainText struct {
	llm         llms.Model
	temperature float64
	timeout     time.Duration
}

// NewLangChainText builds an OpenAI-compatible text client.
func NewLangChainText(cfg config.AIConfig) (*LangChainText, error) {
	if cfg.Text.APIKey == "" {
		return nil, fmt.Errorf("text model: %w", ErrNotConfigured)
	}

	opts := []openai.Option{
		openai.WithBaseURL(cfg.Text.BaseURL),
		openai.WithModel(cfg.Text.Model),
		openai.WithToken(cfg.Text.APIKey),
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return NewLangChainTextFromModel(llm, cfg.Text.Temperature, cfg.Timeout), nil
}

// NewLangChainTextFromModel wraps an existing model.
func NewLangChainTextFromModel(m llms.Model, temperature float64, timeout time.Duration) *LangChainText {
	return &LangChainText{llm: m, temperature: temperature, timeout: timeout}
}

// Generate implements TextGenerator.
func (t *LangChainText) Generate(ctx context.Context, prompt string) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, t.llm, prompt, llms.WithTemperature(t.temperature))
	if err != nil {
		return "", fmt.Errorf("generating text: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("generating text: empty completion")
	}
	return out, nil
}

// Unconfigured stands in for a missing text model; every call fails with
// ErrNotConfigured.
type Unconfigured struct{}

// Generate implements TextGenerator.
func (Unconfigured) Generate(context.Context, string) (string, error) {
	return "", fmt.Errorf("text model: %w", ErrNotConfigured)
}
