package generator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/cyderes/social-autopilot/internal/logging"
	"github.com/cyderes/social-autopilot/internal/models"
)

type scriptedText struct {
	reply   string
	verdict string
	err     error
	calls   int
}

func (s *scriptedText) Generate(_ context.Context, prompt string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if strings.Contains(prompt, "Answer with JSON only") {
		return s.verdict, nil
	}
	return s.reply, nil
}

type stubImages struct {
	url string
	err error
}

func (s stubImages) Generate(context.Context, string) (string, error) { return s.url, s.err }

type stubMedia struct {
	err  error
	keys []string
}

func (s *stubMedia) Rehost(_ context.Context, key, sourceURL string) (string, error) {
	s.keys = append(s.keys, key)
	if s.err != nil {
		return "", s.err
	}
	return "https://cdn.example.com/" + key + ".png", nil
}

var (
	fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	travel   = models.CampaignType{Name: "travel", Persona: "travel postcard curator"}
	helpful  = models.Strategy{Name: "helpful", Style: models.StyleReply, Action: models.ActionReply}
	kyoto    = models.Candidate{Platform: models.PlatformTwitter, MessageID: "1001", Author: "user123", Text: "best travel tips for Kyoto?", Location: "Kyoto"}
)

func TestGenerate_BuildsPendingDraft(t *testing.T) {
	m := &stubMedia{}
	g := New(&scriptedText{reply: `"Go to Fushimi Inari at sunrise."`}, logging.Nop(),
		WithImages(stubImages{url: "https://tmp.example.com/a.png"}),
		WithMedia(m),
		WithClock(func() time.Time { return fixedNow }))

	d, err := g.Generate(context.Background(), kyoto, travel, helpful, 92)
	require.NoError(t, err)

	assert.NotEmpty(t, d.ID)
	assert.Equal(t, models.DraftPendingReview, d.Status)
	assert.Equal(t, 92, d.Score)
	assert.Equal(t, "1001", d.SourceMessageID)
	assert.Equal(t, "Go to Fushimi Inari at sunrise.", d.ReplyText)
	assert.Equal(t, "https://cdn.example.com/"+d.ID+".png", d.ImageURL)
	assert.Equal(t, models.ActionReply, d.ActionType)
	assert.Equal(t, "travel", d.CampaignType)
	assert.Equal(t, fixedNow, d.CreatedAt)
	assert.Nil(t, d.Verdict)
	assert.Equal(t, []string{d.ID}, m.keys)
}

func TestGenerate_ImageFailureKeepsDraft(t *testing.T) {
	log := logging.NewTestLogger()
	g := New(&scriptedText{reply: "hello"}, log.Logger, WithImages(stubImages{err: errors.New("content policy")}))

	d, err := g.Generate(context.Background(), kyoto, travel, helpful, 85)
	require.NoError(t, err)
	assert.Empty(t, d.ImageURL)
	assert.Equal(t, "hello", d.ReplyText)
	log.AssertLogged(t, zapcore.WarnLevel, "image generation failed")
}

func TestGenerate_RehostFailureFallsBackToSource(t *testing.T) {
	g := New(&scriptedText{reply: "hello"}, logging.Nop(),
		WithImages(stubImages{url: "https://tmp.example.com/a.png"}),
		WithMedia(&stubMedia{err: errors.New("s3 down")}))

	d, err := g.Generate(context.Background(), kyoto, travel, helpful, 85)
	require.NoError(t, err)
	assert.Equal(t, "https://tmp.example.com/a.png", d.ImageURL)
}

func TestGenerate_TextFailureIsReturned(t *testing.T) {
	g := New(&scriptedText{err: errors.New("timeout")}, logging.Nop())
	_, err := g.Generate(context.Background(), kyoto, travel, helpful, 85)
	assert.ErrorContains(t, err, "timeout")
}

func TestGenerate_ComparisonVerdict(t *testing.T) {
	text := &scriptedText{
		reply:   "Kyoto wins for temples.",
		verdict: "```json\n{\"winner\":\"Kyoto\",\"summary\":\"More temples\",\"ratings\":{\"Kyoto\":9,\"Osaka\":7}}\n```",
	}
	arena := models.Strategy{Name: "arena", Style: models.StyleComparison, Action: models.ActionQuote}

	d, err := New(text, logging.Nop()).Generate(context.Background(), kyoto, travel, arena, 90)
	require.NoError(t, err)
	require.NotNil(t, d.Verdict)
	assert.Equal(t, "Kyoto", d.Verdict.Winner)
	assert.Equal(t, 9, d.Verdict.Ratings["Kyoto"])
	assert.Equal(t, models.ActionQuote, d.ActionType)
	assert.Equal(t, 2, text.calls)
}

func TestGenerate_TruncatesTweets(t *testing.T) {
	long := strings.Repeat("a", 400)
	d, err := New(&scriptedText{reply: long}, logging.Nop()).Generate(context.Background(), kyoto, travel, helpful, 90)
	require.NoError(t, err)
	assert.Equal(t, maxTweetRunes, len([]rune(d.ReplyText)))

	reddit := kyoto
	reddit.Platform = models.PlatformReddit
	d, err = New(&scriptedText{reply: long}, logging.Nop()).Generate(context.Background(), reddit, travel, helpful, 90)
	require.NoError(t, err)
	assert.Len(t, d.ReplyText, 400)
}

func TestRegenerate(t *testing.T) {
	g := New(&scriptedText{reply: "second take"}, logging.Nop(),
		WithImages(stubImages{url: "https://img.example.com/new.png"}),
		WithClock(func() time.Time { return fixedNow }))
	d := &models.Draft{ID: "d1", Platform: models.PlatformTwitter, ReplyText: "first", ImageURL: "old", Status: models.DraftPendingReview}

	require.NoError(t, g.RegenerateText(context.Background(), d, travel, helpful))
	assert.Equal(t, "second take", d.ReplyText)
	assert.Equal(t, models.DraftPendingReview, d.Status)

	require.NoError(t, g.RegenerateImage(context.Background(), d, helpful))
	assert.Equal(t, "https://img.example.com/new.png", d.ImageURL)
	assert.Equal(t, fixedNow, d.UpdatedAt)

	err := New(&scriptedText{}, logging.Nop()).RegenerateImage(context.Background(), d, helpful)
	assert.ErrorIs(t, err, ErrNoImageService)
}

func TestParseVerdict(t *testing.T) {
	_, err := ParseVerdict("no json here")
	assert.Error(t, err)
	_, err = ParseVerdict(`{"summary":"x"}`)
	assert.ErrorContains(t, err, "no winner")
}
