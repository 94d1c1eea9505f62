package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PostStatus is the publishing state of a post.
type PostStatus string

const (
	PostDraft      PostStatus = "draft"
	PostScheduled  PostStatus = "scheduled"
	PostPublishing PostStatus = "publishing"
	PostPublished  PostStatus = "published"
	PostFailed     PostStatus = "failed"
)

// Valid reports whether s is a known post status.
func (s PostStatus) Valid() bool {
	switch s {
	case PostDraft, PostScheduled, PostPublishing, PostPublished, PostFailed:
		return true
	}
	return false
}

// MaxTwitterMedia is X's per-post attachment limit.
const MaxTwitterMedia = 4

// TwitterResult is the twitter member of PlatformData.
type TwitterResult struct {
	TweetID    string     `json:"tweetId,omitempty" bson:"tweetId,omitempty"`
	URL        string     `json:"url,omitempty" bson:"url,omitempty"`
	Error      string     `json:"error,omitempty" bson:"error,omitempty"`
	Engagement Engagement `json:"metrics" bson:"metrics"`
}

// DiscordResult is the discord member of PlatformData.
type DiscordResult struct {
	MessageID  string     `json:"messageId,omitempty" bson:"messageId,omitempty"`
	ChannelID  string     `json:"channelId,omitempty" bson:"channelId,omitempty"`
	URL        string     `json:"url,omitempty" bson:"url,omitempty"`
	Error      string     `json:"error,omitempty" bson:"error,omitempty"`
	Engagement Engagement `json:"metrics" bson:"metrics"`
}

// RedditResult is the reddit member of PlatformData.
type RedditResult struct {
	PostID     string     `json:"postId,omitempty" bson:"postId,omitempty"`
	Fullname   string     `json:"fullname,omitempty" bson:"fullname,omitempty"`
	URL        string     `json:"url,omitempty" bson:"url,omitempty"`
	Error      string     `json:"error,omitempty" bson:"error,omitempty"`
	Engagement Engagement `json:"metrics" bson:"metrics"`
}

// PlatformData carries one typed, optional result per platform.
type PlatformData struct {
	Twitter *TwitterResult `json:"twitter,omitempty" bson:"twitter,omitempty"`
	Discord *DiscordResult `json:"discord,omitempty" bson:"discord,omitempty"`
	Reddit  *RedditResult  `json:"reddit,omitempty" bson:"reddit,omitempty"`
}

// PlatformOutcome is the platform-neutral view of one PlatformData member.
type PlatformOutcome struct {
	Platform   Platform
	PostID     string
	URL        string
	Error      string
	Engagement Engagement
}

// Record stores the outcome for its platform.
func (d *PlatformData) Record(o PlatformOutcome) {
	switch o.Platform {
	case PlatformTwitter:
		d.Twitter = &TwitterResult{TweetID: o.PostID, URL: o.URL, Error: o.Error, Engagement: o.Engagement}
	case PlatformDiscord:
		channel := ""
		if d.Discord != nil {
			channel = d.Discord.ChannelID
		}
		d.Discord = &DiscordResult{MessageID: o.PostID, ChannelID: channel, URL: o.URL, Error: o.Error, Engagement: o.Engagement}
	case PlatformReddit:
		d.Reddit = &RedditResult{PostID: o.PostID, Fullname: redditFullname(o.PostID), URL: o.URL, Error: o.Error, Engagement: o.Engagement}
	}
}

// Outcome returns the stored outcome for p, if any.
func (d PlatformData) Outcome(p Platform) (PlatformOutcome, bool) {
	switch p {
	case PlatformTwitter:
		if d.Twitter != nil {
			return PlatformOutcome{Platform: p, PostID: d.Twitter.TweetID, URL: d.Twitter.URL, Error: d.Twitter.Error, Engagement: d.Twitter.Engagement}, true
		}
	case PlatformDiscord:
		if d.Discord != nil {
			return PlatformOutcome{Platform: p, PostID: d.Discord.MessageID, URL: d.Discord.URL, Error: d.Discord.Error, Engagement: d.Discord.Engagement}, true
		}
	case PlatformReddit:
		if d.Reddit != nil {
			return PlatformOutcome{Platform: p, PostID: d.Reddit.PostID, URL: d.Reddit.URL, Error: d.Reddit.Error, Engagement: d.Reddit.Engagement}, true
		}
	}
	return PlatformOutcome{}, false
}

// SetEngagement replaces the counters for p; it is a no-op when p has no result.
func (d *PlatformData) SetEngagement(p Platform, e Engagement) {
	switch p {
	case PlatformTwitter:
		if d.Twitter != nil {
			d.Twitter.Engagement = e
		}
	case PlatformDiscord:
		if d.Discord != nil {
			d.Discord.Engagement = e
		}
	case PlatformReddit:
		if d.Reddit != nil {
			d.Reddit.Engagement = e
		}
	}
}

// Clone returns a copy that shares no result pointers with d.
func (d PlatformData) Clone() PlatformData {
	var out PlatformData
	if d.Twitter != nil {
		t := *d.Twitter
		out.Twitter = &t
	}
	if d.Discord != nil {
		dc := *d.Discord
		out.Discord = &dc
	}
	if d.Reddit != nil {
		r := *d.Reddit
		out.Reddit = &r
	}
	return out
}

// Value implements driver.Valuer for JSONB columns.
func (d PlatformData) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner for JSONB columns.
func (d *PlatformData) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = PlatformData{}
		return nil
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	default:
		return fmt.Errorf("cannot scan %T into PlatformData", src)
	}
}

func redditFullname(id string) string {
	if id == "" || len(id) > 3 && id[2] == '_' {
		return id
	}
	return "t3_" + id
}

// Post is the platform-agnostic record of published content.
type Post struct {
	ID            string       `json:"id" bson:"_id"`
	Content       string       `json:"content" bson:"content"`
	Platforms     []Platform   `json:"platforms" bson:"platforms"`
	PlatformData  PlatformData `json:"platformData" bson:"platformData"`
	Status        PostStatus   `json:"status" bson:"status"`
	CampaignID    string       `json:"campaignId,omitempty" bson:"campaignId,omitempty"`
	SourceDraftID string       `json:"sourceDraftId,omitempty" bson:"sourceDraftId,omitempty"`
	MediaURLs     []string     `json:"mediaUrls,omitempty" bson:"mediaUrls,omitempty"`
	ScheduledAt   *time.Time   `json:"scheduledAt,omitempty" bson:"scheduledAt,omitempty"`
	PublishedAt   *time.Time   `json:"publishedAt,omitempty" bson:"publishedAt,omitempty"`
	LastSyncedAt  *time.Time   `json:"lastSyncedAt,omitempty" bson:"lastSyncedAt,omitempty"`
	DeletedAt     *time.Time   `json:"deletedAt,omitempty" bson:"deletedAt,omitempty"`
	CreatedAt     time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt" bson:"updatedAt"`
}

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// Valid reports whether s is a known campaign status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignActive, CampaignPaused, CampaignCompleted:
		return true
	}
	return false
}

// Campaign groups posts sharing a target platform set.
type Campaign struct {
	ID          string         `json:"id" bson:"_id"`
	Name        string         `json:"name" bson:"name"`
	Description string         `json:"description,omitempty" bson:"description,omitempty"`
	Platforms   []Platform     `json:"platforms" bson:"platforms"`
	Status      CampaignStatus `json:"status" bson:"status"`
	OwnerID     string         `json:"ownerId" bson:"ownerId"`
	CreatedAt   time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt" bson:"updatedAt"`
}
