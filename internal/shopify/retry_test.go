package shopify

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient_NilError(t *testing.T) {
	assert.False(t, isTransient(nil))
}

func TestIsTransient_ServerError(t *testing.T) {
	assert.True(t, isTransient(&RemoteError{Status: 502, Message: "bad gateway"}))
}

func TestIsTransient_TooManyRequests(t *testing.T) {
	assert.True(t, isTransient(&RemoteError{Status: http.StatusTooManyRequests, Message: "throttled"}))
}

func TestIsTransient_ClientError(t *testing.T) {
	assert.False(t, isTransient(&RemoteError{Status: 401, Message: "unauthorized"}))
}

func TestIsTransient_ContextCanceled(t *testing.T) {
	assert.False(t, isTransient(context.Canceled))
}

func TestIsTransient_NetworkError(t *testing.T) {
	assert.True(t, isTransient(errors.New("connection reset by peer")))
}

func TestRetrier_Backoff(t *testing.T) {
	r := newRetrier(&RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.0, // no jitter for deterministic test
	})

	assert.Equal(t, 100*time.Millisecond, r.backoff(0))
	assert.Equal(t, 200*time.Millisecond, r.backoff(1))
	assert.Equal(t, 400*time.Millisecond, r.backoff(2))
}

func TestRetrier_BackoffCapped(t *testing.T) {
	r := newRetrier(&RetryConfig{
		MaxRetries:     10,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     5 * time.Second,
		JitterFraction: 0.0,
	})
	assert.Equal(t, 5*time.Second, r.backoff(10))
}

func fastRetrier(maxRetries int) *retrier {
	r := newRetrier(&RetryConfig{MaxRetries: maxRetries, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	r.wait = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestRetrier_RetrySuccess(t *testing.T) {
	r := fastRetrier(3)
	attempts := 0
	err := r.retry(context.Background(), "test", func() error {
		attempts++
		if attempts < 3 {
			return &RemoteError{Status: 500, Message: "fail"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrier_NonTransientNotRetried(t *testing.T) {
	r := fastRetrier(3)
	attempts := 0
	err := r.retry(context.Background(), "test", func() error {
		attempts++
		return &RemoteError{Status: 404, Message: "missing"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_Exhausted(t *testing.T) {
	r := fastRetrier(2)
	var retried []int
	r.onRetry = func(_ string, attempt int, _ error) { retried = append(retried, attempt) }

	err := r.retry(context.Background(), "list orders", func() error {
		return &RemoteError{Status: 503, Message: "unavailable"}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, []int{1, 2}, retried)

	var re *RemoteError
	assert.True(t, errors.As(err, &re))
}

func TestRetrier_CancelledDuringBackoff(t *testing.T) {
	r := newRetrier(&RetryConfig{MaxRetries: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.retry(ctx, "test", func() error {
		return &RemoteError{Status: 500, Message: "fail"}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
}
