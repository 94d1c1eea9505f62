package models

import (
	"fmt"
	"time"
)

// Platform names a publishing target.
type Platform string

const (
	PlatformTwitter Platform = "twitter"
	PlatformDiscord Platform = "discord"
	PlatformReddit  Platform = "reddit"
)

// AllPlatforms lists every supported platform in display order.
var AllPlatforms = []Platform{PlatformTwitter, PlatformDiscord, PlatformReddit}

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTwitter, PlatformDiscord, PlatformReddit:
		return true
	}
	return false
}

// ParsePlatform converts a path or body value into a Platform.
// "x" is accepted as an alias for twitter.
func ParsePlatform(s string) (Platform, error) {
	if s == "x" {
		return PlatformTwitter, nil
	}
	p := Platform(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// Engagement holds the counters fetched by metrics sync.
type Engagement struct {
	Likes       int `json:"likes" bson:"likes"`
	Retweets    int `json:"retweets" bson:"retweets"`
	Replies     int `json:"replies" bson:"replies"`
	Impressions int `json:"impressions" bson:"impressions"`
}

// Candidate is a message discovered by platform search.
type Candidate struct {
	Platform  Platform  `json:"platform"`
	MessageID string    `json:"messageId"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	URL       string    `json:"url,omitempty"`
	Location  string    `json:"location,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// ConnectionStatus is reported by connection tests.
type ConnectionStatus string

const (
	ConnectionConnected  ConnectionStatus = "connected"
	ConnectionNeedsSetup ConnectionStatus = "needs_setup"
	ConnectionError      ConnectionStatus = "error"
)

// PlatformConnection is the singleton credential bundle for one platform.
type PlatformConnection struct {
	Platform     Platform          `json:"platform" bson:"_id"`
	Credentials  map[string]string `json:"-" bson:"credentials"`
	Connected    bool              `json:"connected" bson:"connected"`
	Status       ConnectionStatus  `json:"status" bson:"status"`
	LastError    string            `json:"lastError,omitempty" bson:"lastError,omitempty"`
	LastTestedAt *time.Time        `json:"lastTestedAt,omitempty" bson:"lastTestedAt,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt" bson:"updatedAt"`
}

// CredentialKeys returns the configured credential names, never the values.
func (c *PlatformConnection) CredentialKeys() []string {
	keys := make([]string, 0, len(c.Credentials))
	for k, v := range c.Credentials {
		if v != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
