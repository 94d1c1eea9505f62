package models

import "time"

// DraftStatus is a position in the draft lifecycle.
type DraftStatus string

const (
	DraftPendingReview DraftStatus = "pending_review"
	DraftPendingRetry  DraftStatus = "pending_retry"
	DraftApproved      DraftStatus = "approved"
	DraftPublished     DraftStatus = "published"
	DraftFailed        DraftStatus = "failed"
	DraftRejected      DraftStatus = "rejected"
)

// Valid reports whether s is a known draft status.
func (s DraftStatus) Valid() bool {
	switch s {
	case DraftPendingReview, DraftPendingRetry, DraftApproved, DraftPublished, DraftFailed, DraftRejected:
		return true
	}
	return false
}

// Terminal reports whether no automatic transition leaves s.
func (s DraftStatus) Terminal() bool {
	return s == DraftPublished || s == DraftRejected || s == DraftFailed
}

// ActionType selects how a draft is attached to its source message.
type ActionType string

const (
	ActionReply ActionType = "reply"
	ActionQuote ActionType = "quote"
)

// Verdict is the generated payload of comparison-style drafts.
type Verdict struct {
	Winner    string         `json:"winner" bson:"winner"`
	Summary   string         `json:"summary" bson:"summary"`
	Ratings   map[string]int `json:"ratings,omitempty" bson:"ratings,omitempty"`
	Reasoning string         `json:"reasoning,omitempty" bson:"reasoning,omitempty"`
}

// Draft is a generated reply awaiting review or auto-publication.
type Draft struct {
	ID              string   `json:"id" bson:"_id"`
	Platform        Platform `json:"platform" bson:"platform"`
	SourceMessageID string   `json:"originalTweetId" bson:"sourceMessageId"`
	SourceAuthor    string   `json:"originalAuthor" bson:"sourceAuthor"`
	SourceText      string   `json:"originalText" bson:"sourceText"`
	SourceURL       string   `json:"originalUrl,omitempty" bson:"sourceUrl,omitempty"`
	Topic           string   `json:"topic,omitempty" bson:"topic,omitempty"`
	Location        string   `json:"location,omitempty" bson:"location,omitempty"`

	ReplyText string   `json:"replyText" bson:"replyText"`
	ImageURL  string   `json:"imageUrl,omitempty" bson:"imageUrl,omitempty"`
	Verdict   *Verdict `json:"arenaVerdict,omitempty" bson:"verdict,omitempty"`

	CampaignType string     `json:"campaignType" bson:"campaignType"`
	Strategy     string     `json:"strategy,omitempty" bson:"strategy,omitempty"`
	ActionType   ActionType `json:"actionType" bson:"actionType"`

	Score  int         `json:"score" bson:"score"`
	Status DraftStatus `json:"status" bson:"status"`

	PublishAttempts int        `json:"publishAttempts" bson:"publishAttempts"`
	LastError       string     `json:"lastError,omitempty" bson:"lastError,omitempty"`
	NextRetryAt     *time.Time `json:"nextRetryAt,omitempty" bson:"nextRetryAt,omitempty"`

	PlatformPostID string     `json:"tweetId,omitempty" bson:"platformPostId,omitempty"`
	PublishedAt    *time.Time `json:"publishedAt,omitempty" bson:"publishedAt,omitempty"`
	Engagement     Engagement `json:"engagement" bson:"engagement"`
	LastSyncedAt   *time.Time `json:"lastSyncedAt,omitempty" bson:"lastSyncedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}
