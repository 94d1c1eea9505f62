package models

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform("x")
	require.NoError(t, err)
	assert.Equal(t, PlatformTwitter, p)

	p, err = ParsePlatform("reddit")
	require.NoError(t, err)
	assert.Equal(t, PlatformReddit, p)

	_, err = ParsePlatform("myspace")
	assert.Error(t, err)
}

func TestDraftStatus(t *testing.T) {
	assert.True(t, DraftPendingRetry.Valid())
	assert.False(t, DraftStatus("archived").Valid())

	for _, s := range []DraftStatus{DraftPublished, DraftRejected, DraftFailed} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []DraftStatus{DraftPendingReview, DraftPendingRetry, DraftApproved} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestPlatformData_RecordAndOutcome(t *testing.T) {
	var d PlatformData
	d.Discord = &DiscordResult{ChannelID: "chan-1"}

	d.Record(PlatformOutcome{Platform: PlatformTwitter, PostID: "111", URL: "https://x.com/i/111"})
	d.Record(PlatformOutcome{Platform: PlatformDiscord, PostID: "222"})
	d.Record(PlatformOutcome{Platform: PlatformReddit, PostID: "abc"})

	assert.Equal(t, "chan-1", d.Discord.ChannelID, "channel survives a new outcome")
	assert.Equal(t, "t3_abc", d.Reddit.Fullname)

	o, ok := d.Outcome(PlatformTwitter)
	require.True(t, ok)
	assert.Equal(t, "111", o.PostID)
	assert.Equal(t, "https://x.com/i/111", o.URL)

	d.SetEngagement(PlatformTwitter, Engagement{Likes: 3, Impressions: 40})
	o, _ = d.Outcome(PlatformTwitter)
	assert.Equal(t, 3, o.Engagement.Likes)
	assert.Equal(t, 40, o.Engagement.Impressions)

	var empty PlatformData
	_, ok = empty.Outcome(PlatformReddit)
	assert.False(t, ok)
	empty.SetEngagement(PlatformReddit, Engagement{Likes: 1})
	assert.Nil(t, empty.Reddit)
}

func TestRedditFullname(t *testing.T) {
	assert.Equal(t, "", redditFullname(""))
	assert.Equal(t, "t3_abc", redditFullname("abc"))
	assert.Equal(t, "t1_xyz", redditFullname("t1_xyz"))
}

func TestPlatformData_Scan(t *testing.T) {
	var d PlatformData
	require.NoError(t, d.Scan([]byte(`{"twitter":{"tweetId":"9"}}`)))
	require.NotNil(t, d.Twitter)
	assert.Equal(t, "9", d.Twitter.TweetID)

	require.NoError(t, d.Scan(nil))
	assert.Nil(t, d.Twitter)

	require.NoError(t, d.Scan(`{"reddit":{"postId":"p"}}`))
	assert.Equal(t, "p", d.Reddit.PostID)

	assert.Error(t, d.Scan(42))
}

func TestCredentialKeys(t *testing.T) {
	c := &PlatformConnection{Credentials: map[string]string{
		"api_key":    "k",
		"api_secret": "",
		"bot_token":  "t",
	}}
	keys := c.CredentialKeys()
	sort.Strings(keys)
	assert.Equal(t, []string{"api_key", "bot_token"}, keys)
}

func TestCampaignType_Strategy(t *testing.T) {
	ct := CampaignType{Strategies: []Strategy{{Name: "helpful"}, {Name: "arena", Style: StyleComparison}}}

	s, ok := ct.Strategy("arena")
	require.True(t, ok)
	assert.Equal(t, StyleComparison, s.Style)

	s, ok = ct.Strategy("")
	require.True(t, ok)
	assert.Equal(t, "helpful", s.Name)

	_, ok = ct.Strategy("missing")
	assert.False(t, ok)
}

func TestValidationError(t *testing.T) {
	err := Invalid("minScore", "must be between %d and %d", 0, 100)
	assert.EqualError(t, err, "minScore: must be between 0 and 100")

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "minScore", ve.Field)

	assert.EqualError(t, &ValidationError{Message: "bad"}, "bad")
}

func TestPlatformData_Clone(t *testing.T) {
	d := PlatformData{Twitter: &TwitterResult{TweetID: "1"}}
	c := d.Clone()
	c.SetEngagement(PlatformTwitter, Engagement{Likes: 9})

	assert.Equal(t, 0, d.Twitter.Engagement.Likes)
	assert.Equal(t, 9, c.Twitter.Engagement.Likes)
	assert.Nil(t, c.Discord)
}

func TestPostStatus(t *testing.T) {
	for _, s := range []PostStatus{PostDraft, PostScheduled, PostPublishing, PostPublished, PostFailed} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, PostStatus("archived").Valid())
}
