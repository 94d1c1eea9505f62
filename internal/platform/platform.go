// Package platform holds the Twitter, Discord and Reddit adapters behind one
// Client interface, plus the registry that builds them from credentials.
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/retry"
)

var (
	// ErrNeedsSetup is matched by SetupError; credentials are missing.
	ErrNeedsSetup = errors.New("needs setup")
	// ErrUnsupported is returned for operations a platform does not offer.
	ErrUnsupported = errors.New("operation not supported by platform")
)

// SetupError names the credentials a platform is missing.
type SetupError struct {
	Platform models.Platform
	Missing  []string
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s needs setup: missing %s", e.Platform, strings.Join(e.Missing, ", "))
}

// Is makes errors.Is(err, ErrNeedsSetup) hold.
func (e *SetupError) Is(target error) bool {
	return target == ErrNeedsSetup
}

// APIError is a non-2xx answer from a platform API.
type APIError struct {
	Platform   models.Platform
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Platform, e.StatusCode, e.Message)
}

// RateLimited reports whether the platform refused the call for rate reasons.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == 429 || strings.Contains(strings.ToLower(e.Message), "rate limit")
}

// IsRateLimit reports whether err is a platform rate limit.
func IsRateLimit(err error) bool {
	return retry.IsRateLimit(err)
}

// PostRequest is the platform-neutral publish payload. Platforms ignore the
// fields they have no notion of.
type PostRequest struct {
	Text     string
	Title    string // reddit submissions; derived from Text when empty
	ReplyTo  string // source message to reply to
	QuoteOf  string // twitter quote target
	MediaIDs []string
}

// PostResult identifies the created platform post.
type PostResult struct {
	ID  string
	URL string
}

// Media is one attachment to upload before posting.
type Media struct {
	URL         string
	Data        []byte
	ContentType string
}

// Client is one platform adapter.
type Client interface {
	Name() models.Platform
	Post(ctx context.Context, req PostRequest) (PostResult, error)
	// UploadMedia returns the identifier to pass in PostRequest.MediaIDs.
	UploadMedia(ctx context.Context, m Media) (string, error)
	Search(ctx context.Context, query string, limit int) ([]models.Candidate, error)
	// FetchMetrics returns counters keyed by the requested IDs; IDs the
	// platform no longer knows are absent.
	FetchMetrics(ctx context.Context, ids []string) (map[string]models.Engagement, error)
	// MetricsBatchSize is the largest ids slice FetchMetrics accepts; zero
	// means metrics are unavailable.
	MetricsBatchSize() int
	FetchReplies(ctx context.Context, id string) ([]models.Candidate, error)
	Test(ctx context.Context) error
}
