// Package scoring rates discovered messages and applies the draft quality bar.
package scoring

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cyderes/social-autopilot/internal/ai"
	"github.com/cyderes/social-autopilot/internal/models"
)

// Scorer rates how worth answering a candidate is, from 0 to 100.
type Scorer interface {
	Score(ctx context.Context, c models.Candidate, campaign models.CampaignType) (int, error)
}

var (
	number = regexp.MustCompile(`-?\d+`)
	// scale matches mentions of the rating range such as "0-100" or "/100".
	scale = regexp.MustCompile(`(?i)\b0\s*(?:-|to)\s*100\b|(?:/|\bout of)\s*100\b`)
)

// LLMScorer asks the text model for a score.
type LLMScorer struct {
	text ai.TextGenerator
}

// NewLLMScorer creates a scorer backed by text.
func NewLLMScorer(text ai.TextGenerator) *LLMScorer {
	return &LLMScorer{text: text}
}

const scorePrompt = `You are the %s.
Rate from 0 to 100 how valuable it would be to reply to this %s post.
Consider relevance to these topics: %s.
Answer with a single integer and nothing else.

Author: @%s
Post: %s`

// Score implements Scorer.
func (s *LLMScorer) Score(ctx context.Context, c models.Candidate, campaign models.CampaignType) (int, error) {
	prompt := fmt.Sprintf(scorePrompt, campaign.Persona, c.Platform, strings.Join(campaign.Keywords, ", "), c.Author, c.Text)
	out, err := s.text.Generate(ctx, prompt)
	if err != nil {
		return 0, fmt.Errorf("scoring candidate %s: %w", c.MessageID, err)
	}
	return ParseScore(out)
}

// ParseScore extracts the score from model output. Mentions of the 0..100
// scale are ignored; the first remaining integer within range wins, and
// when none is in range the first integer is clamped.
func ParseScore(out string) (int, error) {
	found := number.FindAllString(scale.ReplaceAllString(out, " "), -1)
	if len(found) == 0 {
		return 0, fmt.Errorf("no score in model output %q", truncate(out, 80))
	}
	first := 0
	for i, m := range found {
		n, err := strconv.Atoi(m)
		if err != nil {
			return 0, fmt.Errorf("parsing score %q: %w", m, err)
		}
		if n >= 0 && n <= 100 {
			return n, nil
		}
		if i == 0 {
			first = n
		}
	}
	return clamp(first), nil
}

// KeywordScorer is a deterministic fallback used when no text model is
// configured: each keyword found in the text is worth an equal share of 100.
type KeywordScorer struct{}

// Score implements Scorer.
func (KeywordScorer) Score(_ context.Context, c models.Candidate, campaign models.CampaignType) (int, error) {
	if len(campaign.Keywords) == 0 {
		return 0, nil
	}
	text := strings.ToLower(c.Text)
	hits := 0
	for _, k := range campaign.Keywords {
		if k != "" && strings.Contains(text, strings.ToLower(k)) {
			hits++
		}
	}
	return clamp(hits * 100 / len(campaign.Keywords)), nil
}

// Filter applies the configured threshold to a Scorer.
type Filter struct {
	scorer    Scorer
	threshold int
}

// NewFilter creates a Filter.
func NewFilter(scorer Scorer, threshold int) *Filter {
	return &Filter{scorer: scorer, threshold: threshold}
}

// Threshold returns the quality bar.
func (f *Filter) Threshold() int { return f.threshold }

// Evaluate scores c and reports whether it clears the threshold.
func (f *Filter) Evaluate(ctx context.Context, c models.Candidate, campaign models.CampaignType) (int, bool, error) {
	score, err := f.scorer.Score(ctx, c, campaign)
	if err != nil {
		return 0, false, err
	}
	return score, Accepts(score, f.threshold), nil
}

// Accepts reports whether score meets threshold.
func Accepts(score, threshold int) bool {
	return score >= threshold
}

func clamp(n int) int {
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
