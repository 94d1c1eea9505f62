package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type limitedErr struct{ limited bool }

func (e limitedErr) Error() string     { return "upstream refused" }
func (e limitedErr) RateLimited() bool { return e.limited }

func TestIsRateLimit(t *testing.T) {
	assert.False(t, IsRateLimit(nil))
	assert.True(t, IsRateLimit(limitedErr{limited: true}))
	assert.False(t, IsRateLimit(limitedErr{limited: false}))
	assert.True(t, IsRateLimit(errors.New("Rate Limit exceeded")))
	assert.True(t, IsRateLimit(fmt.Errorf("publish: %w", limitedErr{limited: true})))
	assert.False(t, IsRateLimit(errors.New("duplicate content")))
	// digits in ids or text are not status codes
	assert.False(t, IsRateLimit(errors.New("tweet 14290 not found")))
	assert.False(t, IsRateLimit(errors.New("status 429")))
}

func TestPolicy_Decide(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: 10 * time.Minute}
	rl := errors.New("rate limit")

	d := p.Decide(1, rl)
	assert.True(t, d.Retry)
	assert.Equal(t, time.Minute, d.Delay)

	d = p.Decide(2, rl)
	assert.True(t, d.Retry)
	assert.Equal(t, 2*time.Minute, d.Delay)

	// third failed attempt is terminal even for rate limits
	assert.False(t, p.Decide(3, rl).Retry)
	// non rate-limit failures are never retried
	assert.False(t, p.Decide(1, errors.New("forbidden")).Retry)
	assert.False(t, p.Decide(1, nil).Retry)
}

func TestPolicy_DecideCapsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Minute}
	rl := errors.New("rate limit")

	assert.True(t, p.Decide(2, rl).Retry)
	assert.False(t, p.Decide(3, rl).Retry, "a misconfigured policy still stops at three attempts")
}

func TestPolicy_DelayCapped(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Minute, MaxDelay: 5 * time.Minute}
	assert.Equal(t, time.Minute, p.Delay(0))
	assert.Equal(t, 4*time.Minute, p.Delay(3))
	assert.Equal(t, 5*time.Minute, p.Delay(4))
	assert.Equal(t, 5*time.Minute, p.Delay(9))
}

func TestExecutor_RetriesUntilMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	calls := 0
	exec := Executor[string](p, func(_ string, err error) bool { return IsRateLimit(err) })

	_, err := exec.Get(func() (string, error) {
		calls++
		return "", errors.New("rate limit")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestExecutor_StopsOnNonRetryable(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	exec := Executor[string](p, func(_ string, err error) bool { return IsRateLimit(err) })

	_, err := exec.Get(func() (string, error) {
		calls++
		return "", errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoHTTP_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exec := NewHTTPExecutor(TransportConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	resp, err := DoHTTP(context.Background(), exec, server.Client(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoHTTP_DoesNotRetryRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	exec := NewHTTPExecutor(TransportConfig{MaxRetries: 2, BaseDelay: time.Millisecond})
	resp, err := DoHTTP(context.Background(), exec, server.Client(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoHTTP_BuildErrorNotRetried(t *testing.T) {
	calls := 0
	exec := NewHTTPExecutor(DefaultTransportConfig())
	_, err := DoHTTP(context.Background(), exec, http.DefaultClient, func(ctx context.Context) (*http.Request, error) {
		calls++
		return nil, errors.New("bad url")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestShouldRetryWrite(t *testing.T) {
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	read := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}

	assert.True(t, ShouldRetryWrite(nil, fmt.Errorf("post: %w", dial)))
	assert.True(t, ShouldRetryWrite(nil, &net.DNSError{Err: "no such host", Name: "api.x.com"}))
	assert.False(t, ShouldRetryWrite(nil, read))
	assert.False(t, ShouldRetryWrite(nil, context.DeadlineExceeded))
	assert.False(t, ShouldRetryWrite(&http.Response{StatusCode: http.StatusBadGateway}, nil))
}

func TestWriteExecutor_DoesNotResendOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	exec := NewWriteExecutor(TransportConfig{MaxRetries: 2, BaseDelay: time.Millisecond})
	resp, err := DoHTTP(context.Background(), exec, server.Client(), func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPost, server.URL, nil)
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
