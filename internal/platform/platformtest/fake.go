// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/cyderes/social-autopilot/internal/models"
	"github.com/cyderes/social-autopilot/internal/platform"
)

// Fake records calls and answers from its fields. Errors queued in PostErrs
// are returned by successive Post calls before falling back to success.
type Fake struct {
	Platform models.Platform

	mu         sync.Mutex
	PostErrs   []error
	UploadErr  map[string]error
	Results    map[string][]models.Candidate // search query to results
	SearchErr  error
	Metrics    map[string]models.Engagement
	MetricsErr map[string]error // keyed by the first id of the failing batch
	BatchSize  int
	TestErr    error
	// OnPost runs at the start of every Post call, before any lock is held.
	OnPost func(ctx context.Context)

	Posts       []platform.PostRequest
	Uploads     []string
	MetricCalls [][]string
	next        int
}

// New creates a Fake for p.
func New(p models.Platform) *Fake {
	return &Fake{Platform: p, BatchSize: 100}
}

// Name implements platform.Client.
func (f *Fake) Name() models.Platform { return f.Platform }

// MetricsBatchSize implements platform.Client.
func (f *Fake) MetricsBatchSize() int { return f.BatchSize }

// Post implements platform.Client.
func (f *Fake) Post(ctx context.Context, req platform.PostRequest) (platform.PostResult, error) {
	if f.OnPost != nil {
		f.OnPost(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Posts = append(f.Posts, req)
	if len(f.PostErrs) > 0 {
		err := f.PostErrs[0]
		f.PostErrs = f.PostErrs[1:]
		if err != nil {
			return platform.PostResult{}, err
		}
	}
	f.next++
	id := fmt.Sprintf("%s-%d", f.Platform, f.next)
	return platform.PostResult{ID: id, URL: "https://example.com/" + id}, nil
}

// UploadMedia implements platform.Client.
func (f *Fake) UploadMedia(_ context.Context, m platform.Media) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.UploadErr[m.URL]; err != nil {
		return "", err
	}
	f.Uploads = append(f.Uploads, m.URL)
	return "media:" + m.URL, nil
}

// Search implements platform.Client.
func (f *Fake) Search(_ context.Context, query string, limit int) ([]models.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	res := f.Results[query]
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// FetchMetrics implements platform.Client.
func (f *Fake) FetchMetrics(_ context.Context, ids []string) (map[string]models.Engagement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MetricCalls = append(f.MetricCalls, append([]string(nil), ids...))
	if len(ids) > 0 {
		if err := f.MetricsErr[ids[0]]; err != nil {
			return nil, err
		}
	}
	out := make(map[string]models.Engagement, len(ids))
	for _, id := range ids {
		if e, ok := f.Metrics[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

// FetchReplies implements platform.Client.
func (f *Fake) FetchReplies(context.Context, string) ([]models.Candidate, error) {
	return nil, nil
}

// Test implements platform.Client.
func (f *Fake) Test(context.Context) error { return f.TestErr }

// PostCount returns how many Post calls were made.
func (f *Fake) PostCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Posts)
}

// Clients maps platforms to clients and satisfies publisher.Clients.
type Clients map[models.Platform]platform.Client

// Get returns the client for p or a setup error.
func (c Clients) Get(p models.Platform) (platform.Client, error) {
	if cl, ok := c[p]; ok {
		return cl, nil
	}
	return nil, &platform.SetupError{Platform: p, Missing: platform.CredentialNames(p)}
}

// RateLimited returns a 429 APIError for p.
func RateLimited(p models.Platform) error {
	return &platform.APIError{Platform: p, StatusCode: 429, Message: "Too Many Requests: rate limit exceeded"}
}
