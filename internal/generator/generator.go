// Package generator turns accepted candidates into drafts using the text and
// image services.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cyderes/social-autopilot/internal/ai"
	"github.com/cyderes/social-autopilot/internal/logging"
	"github.com/cyderes/social-autopilot/internal/media"
	"github.com/cyderes/social-autopilot/internal/models"
)

// ErrNoImageService is returned by RegenerateImage when images are disabled.
var ErrNoImageService = errors.New("image generation is not configured")

// maxTweetRunes is X's post length limit.
const maxTweetRunes = 280

// Generator assembles drafts.
type Generator struct {
	text   ai.TextGenerator
	images ai.ImageGenerator
	media  media.Store
	log    *logging.Logger
	now    func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithImages enables image generation.
func WithImages(g ai.ImageGenerator) Option {
	return func(gen *Generator) { gen.images = g }
}

// WithMedia rehosts generated images through s.
func WithMedia(s media.Store) Option {
	return func(gen *Generator) { gen.media = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(gen *Generator) { gen.now = now }
}

// New creates a Generator.
func New(text ai.TextGenerator, log *logging.Logger, opts ...Option) *Generator {
	g := &Generator{text: text, log: log, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logging.Nop()
	}
	return g
}

// Generate builds a pending_review draft for c. Image or verdict failures are
// logged and leave the draft without that content; only a reply text failure
// is returned.
func (g *Generator) Generate(ctx context.Context, c models.Candidate, campaign models.CampaignType, strategy models.Strategy, score int) (*models.Draft, error) {
	now := g.now().UTC()
	action := strategy.Action
	if action == "" {
		action = models.ActionReply
	}
	d := &models.Draft{
		ID:              uuid.NewString(),
		Platform:        c.Platform,
		SourceMessageID: c.MessageID,
		SourceAuthor:    c.Author,
		SourceText:      c.Text,
		SourceURL:       c.URL,
		Topic:           c.Topic,
		Location:        c.Location,
		CampaignType:    campaign.Name,
		Strategy:        strategy.Name,
		ActionType:      action,
		Score:           score,
		Status:          models.DraftPendingReview,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	ctx = logging.WithDraftID(ctx, d.ID)

	if err := g.fillText(ctx, d, campaign, strategy); err != nil {
		return nil, err
	}
	if err := g.fillImage(ctx, d, strategy); err != nil && !errors.Is(err, ErrNoImageService) {
		g.log.Warn(ctx, "image generation failed, keeping draft without image",
			zap.String("source_message_id", d.SourceMessageID),
			zap.Error(err))
	}
	return d, nil
}

// RegenerateText replaces the reply text (and verdict) of d in place.
func (g *Generator) RegenerateText(ctx context.Context, d *models.Draft, campaign models.CampaignType, strategy models.Strategy) error {
	if err := g.fillText(ctx, d, campaign, strategy); err != nil {
		return err
	}
	d.UpdatedAt = g.now().UTC()
	return nil
}

// RegenerateImage replaces the image of d in place.
func (g *Generator) RegenerateImage(ctx context.Context, d *models.Draft, strategy models.Strategy) error {
	if err := g.fillImage(ctx, d, strategy); err != nil {
		return err
	}
	d.UpdatedAt = g.now().UTC()
	return nil
}

func (g *Generator) fillText(ctx context.Context, d *models.Draft, campaign models.CampaignType, strategy models.Strategy) error {
	out, err := g.text.Generate(ctx, replyPrompt(d, campaign, strategy))
	if err != nil {
		return fmt.Errorf("generating reply text: %w", err)
	}
	text := cleanText(out)
	if d.Platform == models.PlatformTwitter {
		text = truncateRunes(text, maxTweetRunes)
	}
	d.ReplyText = text

	if strategy.Style != models.StyleComparison {
		return nil
	}
	v, err := g.verdict(ctx, d, campaign)
	if err != nil {
		g.log.Warn(ctx, "verdict generation failed", zap.Error(err))
		return nil
	}
	d.Verdict = v
	return nil
}

func (g *Generator) verdict(ctx context.Context, d *models.Draft, campaign models.CampaignType) (*models.Verdict, error) {
	out, err := g.text.Generate(ctx, verdictPrompt(d, campaign))
	if err != nil {
		return nil, err
	}
	return ParseVerdict(out)
}

func (g *Generator) fillImage(ctx context.Context, d *models.Draft, strategy models.Strategy) error {
	if g.images == nil {
		return ErrNoImageService
	}
	url, err := g.images.Generate(ctx, imagePrompt(d, strategy))
	if err != nil {
		return fmt.Errorf("generating image: %w", err)
	}
	if g.media != nil {
		hosted, err := g.media.Rehost(ctx, d.ID, url)
		if err != nil {
			g.log.Warn(ctx, "image rehost failed, using source URL", zap.Error(err))
		} else {
			url = hosted
		}
	}
	if strings.HasPrefix(url, "data:") {
		return fmt.Errorf("generated image has no durable URL")
	}
	d.ImageURL = url
	return nil
}

// ParseVerdict reads the JSON object in out, tolerating code fences and
// surrounding prose.
func ParseVerdict(out string) (*models.Verdict, error) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in verdict output")
	}
	var v models.Verdict
	if err := json.Unmarshal([]byte(out[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("parsing verdict: %w", err)
	}
	if v.Winner == "" {
		return nil, fmt.Errorf("verdict has no winner")
	}
	return &v, nil
}

func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
