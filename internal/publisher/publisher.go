// Package publisher sends drafts and posts to their target platforms.
package publisher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cyderes/social-autopilot/internal/logging"
	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/platform"
	"github.com/cyderes/social-autopilot/internal/telemetry"
)

// Clients resolves a platform client; *platform.Registry implements it.
type Clients interface {
	Get(p models.Platform) (platform.Client, error)
}

// Request is one platform publish.
type Request struct {
	Text      string
	Title     string
	ReplyTo   string
	QuoteOf   string
	MediaURLs []string
}

// Result summarizes a multi-platform publish.
type Result struct {
	// Success is true when at least one platform accepted the post.
	Success   bool                       `json:"success"`
	Succeeded []models.Platform          `json:"succeeded"`
	Failed    []models.Platform          `json:"failed"`
	Errors    map[models.Platform]string `json:"errors,omitempty"`
}

// Publisher uploads media and posts content.
type Publisher struct {
	clients Clients
	log     *logging.Logger
	metrics *telemetry.Metrics
}

// New creates a Publisher.
func New(clients Clients, log *logging.Logger, metrics *telemetry.Metrics) *Publisher {
	if log == nil {
		log = logging.Nop()
	}
	return &Publisher{clients: clients, log: log, metrics: metrics}
}

// PublishTo uploads each media item in order, skipping the ones that fail,
// then posts the text with whatever media was uploaded.
func (p *Publisher) PublishTo(ctx context.Context, pl models.Platform, req Request) (platform.PostResult, error) {
	client, err := p.clients.Get(pl)
	if err != nil {
		return platform.PostResult{}, err
	}

	mediaURLs := req.MediaURLs
	if pl == models.PlatformTwitter && len(mediaURLs) > models.MaxTwitterMedia {
		p.log.Warn(ctx, "dropping media beyond platform limit",
			zap.String("platform", string(pl)),
			zap.Int("count", len(mediaURLs)))
		mediaURLs = mediaURLs[:models.MaxTwitterMedia]
	}

	var mediaIDs []string
	for i, u := range mediaURLs {
		id, err := client.UploadMedia(ctx, platform.Media{URL: u})
		if err != nil {
			p.log.Warn(ctx, "media upload failed, skipping",
				zap.String("platform", string(pl)),
				zap.Int("index", i),
				zap.String("url", u),
				zap.Error(err))
			continue
		}
		mediaIDs = append(mediaIDs, id)
	}

	res, err := client.Post(ctx, platform.PostRequest{
		Text:     req.Text,
		Title:    req.Title,
		ReplyTo:  req.ReplyTo,
		QuoteOf:  req.QuoteOf,
		MediaIDs: mediaIDs,
	})
	if err != nil {
		p.metrics.Published(string(pl), "error")
		return platform.PostResult{}, fmt.Errorf("posting to %s: %w", pl, err)
	}
	p.metrics.Published(string(pl), "success")
	return res, nil
}

// PublishDraft posts d to its platform as a reply or quote of its source.
func (p *Publisher) PublishDraft(ctx context.Context, d *models.Draft) (platform.PostResult, error) {
	req := Request{Text: d.ReplyText}
	switch d.ActionType {
	case models.ActionQuote:
		req.QuoteOf = d.SourceMessageID
	default:
		req.ReplyTo = d.SourceMessageID
	}
	if d.ImageURL != "" {
		req.MediaURLs = []string{d.ImageURL}
	}
	return p.PublishTo(logging.WithDraftID(ctx, d.ID), d.Platform, req)
}

// PublishPost posts to every target platform of post and records each outcome
// in its PlatformData. One platform failing does not stop the others.
func (p *Publisher) PublishPost(ctx context.Context, post *models.Post) Result {
	res := Result{Errors: map[models.Platform]string{}}
	for _, pl := range post.Platforms {
		out, err := p.PublishTo(ctx, pl, Request{Text: post.Content, MediaURLs: post.MediaURLs})
		if err != nil {
			p.log.Error(ctx, "platform publish failed",
				zap.String("post_id", post.ID),
				zap.String("platform", string(pl)),
				zap.Error(err))
			res.Failed = append(res.Failed, pl)
			res.Errors[pl] = err.Error()
			post.PlatformData.Record(models.PlatformOutcome{Platform: pl, Error: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, pl)
		post.PlatformData.Record(models.PlatformOutcome{Platform: pl, PostID: out.ID, URL: out.URL})
	}
	res.Success = len(res.Succeeded) > 0
	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res
}
