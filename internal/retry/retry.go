// Package retry holds the retry policy shared by every publish call site and
// the failsafe-go executors used for transient transport failures.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/cyderes/social-autopilot/internal/config"
)

// rateLimiter is implemented by errors that know whether they are rate limits.
type rateLimiter interface {
	RateLimited() bool
}

// IsRateLimit reports whether err is a rate-limit failure: an error that says
// so itself, or one whose message contains "rate limit". Status codes are
// only trusted through RateLimited.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rl rateLimiter
	if errors.As(err, &rl) && rl.RateLimited() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit")
}

// Policy decides whether a failed publish attempt may be retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool
}

// Decision is the outcome of Policy.Decide.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// NewPolicy builds the policy from configuration; only rate limits are retryable.
func NewPolicy(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Retryable:   IsRateLimit,
	}
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return NewPolicy(config.Default().Retry)
}

// Decide classifies the failure of attempt number attempts (1-based). No
// policy allows more than config.MaxPublishAttempts attempts.
func (p Policy) Decide(attempts int, err error) Decision {
	if err == nil || attempts >= min(p.MaxAttempts, config.MaxPublishAttempts) {
		return Decision{}
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRateLimit
	}
	if !retryable(err) {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Delay(attempts)}
}

// Delay returns the exponential backoff before retrying after attempt n.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Executor returns an in-process executor that retries while retryIf holds,
// up to MaxAttempts total executions, returning the last failure.
func Executor[R any](p Policy, retryIf func(R, error) bool) failsafe.Executor[R] {
	maxDelay := p.MaxDelay
	if maxDelay < p.BaseDelay {
		maxDelay = p.BaseDelay
	}
	builder := retrypolicy.NewBuilder[R]().
		WithMaxRetries(max(p.MaxAttempts-1, 0)).
		ReturnLastFailure().
		HandleIf(retryIf)
	if p.BaseDelay > 0 {
		builder = builder.WithBackoff(p.BaseDelay, maxDelay)
	}
	return failsafe.With[R](builder.Build())
}

// TransportConfig configures retries of transient HTTP failures.
type TransportConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultTransportConfig retries twice on network errors and 5xx answers.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxRetries: 2,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

// ShouldRetryHTTP retries network errors and gateway failures. A 429 is not
// retried here; it is surfaced so the publish policy can classify it.
func ShouldRetryHTTP(resp *http.Response, err error) bool {
	if err != nil {
		var be *buildError
		if errors.As(err, &be) {
			return false
		}
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// ShouldRetryWrite retries only failures where the request provably never
// reached the server, so a non-idempotent write is not sent twice.
func ShouldRetryWrite(_ *http.Response, err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// NewHTTPExecutor creates a failsafe executor for outbound HTTP requests.
//
//nolint:bodyclose // [*http.Response] is a type parameter, not a response
func NewHTTPExecutor(cfg TransportConfig) failsafe.Executor[*http.Response] {
	return newHTTPExecutor(cfg, ShouldRetryHTTP)
}

// NewWriteExecutor creates a failsafe executor for requests that create
// remote state. It retries connection failures only.
//
//nolint:bodyclose // [*http.Response] is a type parameter, not a response
func NewWriteExecutor(cfg TransportConfig) failsafe.Executor[*http.Response] {
	return newHTTPExecutor(cfg, ShouldRetryWrite)
}

//nolint:bodyclose // [*http.Response] is a type parameter, not a response
func newHTTPExecutor(cfg TransportConfig, retryIf func(*http.Response, error) bool) failsafe.Executor[*http.Response] {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	policy := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		HandleIf(retryIf).
		OnRetry(func(e failsafe.ExecutionEvent[*http.Response]) {
			if resp := e.LastResult(); resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
		}).
		Build()
	return failsafe.With[*http.Response](policy)
}

// buildError marks request construction failures, which are never retried.
type buildError struct{ err error }

func (e *buildError) Error() string { return e.err.Error() }
func (e *buildError) Unwrap() error { return e.err }

// DoHTTP sends the request built by newReq through exec. newReq is called once
// per attempt so request bodies can be replayed.
func DoHTTP(ctx context.Context, exec failsafe.Executor[*http.Response], client *http.Client, newReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	return exec.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := newReq(ctx)
		if err != nil {
			return nil, &buildError{err: err}
		}
		return client.Do(req)
	})
}
