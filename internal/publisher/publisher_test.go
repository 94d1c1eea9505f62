package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/cyderes/social-autopilot/internal/logging"
	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/platform"
	"github.com/cyderes/social-autopilot/internal/platform/platformtest"
)

func TestPublishTo_SkipsFailedMedia(t *testing.T) {
	tw := platformtest.New(models.PlatformTwitter)
	tw.UploadErr = map[string]error{"https://img/2.png": errors.New("too large")}
	log := logging.NewTestLogger()
	p := New(platformtest.Clients{models.PlatformTwitter: tw}, log.Logger, nil)

	res, err := p.PublishTo(context.Background(), models.PlatformTwitter, Request{
		Text:      "hello",
		MediaURLs: []string{"https://img/1.png", "https://img/2.png", "https://img/3.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "twitter-1", res.ID)
	require.Len(t, tw.Posts, 1)
	assert.Equal(t, []string{"media:https://img/1.png", "media:https://img/3.png"}, tw.Posts[0].MediaIDs)
	log.AssertLogged(t, zapcore.WarnLevel, "media upload failed")
}

func TestPublishTo_CapsTwitterMedia(t *testing.T) {
	tw := platformtest.New(models.PlatformTwitter)
	p := New(platformtest.Clients{models.PlatformTwitter: tw}, nil, nil)

	_, err := p.PublishTo(context.Background(), models.PlatformTwitter, Request{
		Text:      "hello",
		MediaURLs: []string{"a", "b", "c", "d", "e", "f"},
	})
	require.NoError(t, err)
	assert.Len(t, tw.Uploads, models.MaxTwitterMedia)
}

func TestPublishTo_NeedsSetup(t *testing.T) {
	p := New(platformtest.Clients{}, nil, nil)
	_, err := p.PublishTo(context.Background(), models.PlatformReddit, Request{Text: "x"})
	assert.ErrorIs(t, err, platform.ErrNeedsSetup)
}

func TestPublishDraft_ReplyAndQuote(t *testing.T) {
	tw := platformtest.New(models.PlatformTwitter)
	p := New(platformtest.Clients{models.PlatformTwitter: tw}, nil, nil)

	_, err := p.PublishDraft(context.Background(), &models.Draft{ID: "d1", Platform: models.PlatformTwitter, SourceMessageID: "42", ReplyText: "hi", ActionType: models.ActionReply, ImageURL: "https://img/x.png"})
	require.NoError(t, err)
	_, err = p.PublishDraft(context.Background(), &models.Draft{ID: "d2", Platform: models.PlatformTwitter, SourceMessageID: "43", ReplyText: "hi", ActionType: models.ActionQuote})
	require.NoError(t, err)

	require.Len(t, tw.Posts, 2)
	assert.Equal(t, "42", tw.Posts[0].ReplyTo)
	assert.Equal(t, []string{"media:https://img/x.png"}, tw.Posts[0].MediaIDs)
	assert.Equal(t, "43", tw.Posts[1].QuoteOf)
	assert.Empty(t, tw.Posts[1].ReplyTo)
}

func TestPublishPost_PartialSuccess(t *testing.T) {
	tw := platformtest.New(models.PlatformTwitter)
	dc := platformtest.New(models.PlatformDiscord)
	dc.PostErrs = []error{errors.New("missing access")}
	p := New(platformtest.Clients{models.PlatformTwitter: tw, models.PlatformDiscord: dc}, nil, nil)

	post := &models.Post{ID: "p1", Content: "hello", Platforms: []models.Platform{models.PlatformTwitter, models.PlatformDiscord, models.PlatformReddit}}
	res := p.PublishPost(context.Background(), post)

	assert.True(t, res.Success)
	assert.Equal(t, []models.Platform{models.PlatformTwitter}, res.Succeeded)
	assert.Equal(t, []models.Platform{models.PlatformDiscord, models.PlatformReddit}, res.Failed)
	assert.Contains(t, res.Errors[models.PlatformDiscord], "missing access")
	require.NotNil(t, post.PlatformData.Twitter)
	assert.Equal(t, "twitter-1", post.PlatformData.Twitter.TweetID)
	require.NotNil(t, post.PlatformData.Discord)
	assert.Contains(t, post.PlatformData.Discord.Error, "missing access")
	require.NotNil(t, post.PlatformData.Reddit)
	assert.Contains(t, post.PlatformData.Reddit.Error, "needs setup")
}

func TestPublishPost_AllFailed(t *testing.T) {
	p := New(platformtest.Clients{}, nil, nil)
	res := p.PublishPost(context.Background(), &models.Post{ID: "p2", Content: "x", Platforms: []models.Platform{models.PlatformTwitter}})
	assert.False(t, res.Success)
	assert.Empty(t, res.Succeeded)
}
