package util

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "ETIMEDOUT", err: syscall.ETIMEDOUT, expected: true},
		{name: "ECONNRESET", err: syscall.ECONNRESET, expected: true},
		{name: "ENOENT (not retryable)", err: syscall.ENOENT, expected: false},
		{name: "timeout in error message", err: errors.New("connection timeout"), expected: true},
		{name: "ssl eof in message", err: errors.New("SSL: unexpected EOF while reading"), expected: true},
		{name: "generic error (not retryable)", err: errors.New("invalid argument"), expected: false},
		{name: "PathError with ECONNREFUSED", err: &os.PathError{Op: "dial", Path: "x", Err: syscall.ECONNREFUSED}, expected: true},
		{name: "rate limited", err: &RateLimitError{Service: "discord"}, expected: true},
		{name: "http 503", err: &StatusError{Service: "plex", StatusCode: 503}, expected: true},
		{name: "http 404 (not retryable)", err: &StatusError{Service: "musicbrainz", StatusCode: 404}, expected: false},
		{name: "http 400 (not retryable)", err: &StatusError{Service: "lidarr", StatusCode: 400}, expected: false},
		{name: "wrapped not found", err: fmt.Errorf("lookup: %w", ErrNotFound), expected: false},
		{name: "context cancelled", err: context.Canceled, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryableError(tt.err))
		})
	}
}

func TestRetryWithBackoff_ImmediateSuccess(t *testing.T) {
	attempts := 0
	cfg := &RetryConfig{MaxAttempts: 3, InitialWait: 10 * time.Millisecond, MaxWait: 100 * time.Millisecond}

	result, err := RetryWithBackoff(context.Background(), cfg, func(context.Context) (int, error) {
		attempts++
		return 42, nil
	}, "test operation")

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	cfg := &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}

	result, err := RetryWithBackoff(context.Background(), cfg, func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", syscall.ETIMEDOUT
		}
		return "success", nil
	}, "test operation")

	require.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_FailureAfterMaxRetries(t *testing.T) {
	attempts := 0
	cfg := &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}

	_, err := RetryWithBackoff(context.Background(), cfg, func(context.Context) (int, error) {
		attempts++
		return 0, syscall.ETIMEDOUT
	}, "test operation")

	require.Error(t, err)
	assert.ErrorIs(t, err, syscall.ETIMEDOUT)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_NonRetryableError(t *testing.T) {
	attempts := 0
	cfg := &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond}

	_, err := RetryWithBackoff(context.Background(), cfg, func(context.Context) (int, error) {
		attempts++
		return 0, ErrNotFound
	}, "test operation")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &RetryConfig{MaxAttempts: 5, InitialWait: time.Hour}

	attempts := 0
	done := make(chan error, 1)
	go func() {
		_, err := RetryWithBackoff(ctx, cfg, func(context.Context) (int, error) {
			attempts++
			return 0, syscall.ECONNRESET
		}, "slow operation")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}

func TestRetryConfig_WaitFor(t *testing.T) {
	cfg := &RetryConfig{InitialWait: 4 * time.Second, MaxWait: 20 * time.Second}

	var got []time.Duration
	for attempt := 1; attempt <= 6; attempt++ {
		got = append(got, cfg.WaitFor(attempt))
	}

	want := []time.Duration{4 * time.Second, 8 * time.Second, 16 * time.Second, 20 * time.Second, 20 * time.Second, 20 * time.Second}
	assert.Equal(t, want, got)
}

func TestRetryConfig_CustomBackoff(t *testing.T) {
	cfg := &RetryConfig{Backoff: func(attempt int) time.Duration { return time.Duration(attempt) * time.Second }}
	assert.Equal(t, 3*time.Second, cfg.WaitFor(3))
}

func TestRetry_NoReturnValue(t *testing.T) {
	attempts := 0
	cfg := &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond}

	err := Retry(context.Background(), cfg, func(context.Context) error {
		attempts++
		if attempts < 2 {
			return syscall.ETIMEDOUT
		}
		return nil
	}, "test operation")

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryAfter(t *testing.T) {
	d, ok := RetryAfter(fmt.Errorf("send: %w", &RateLimitError{Service: "slack", RetryAfter: 3 * time.Second}))
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	_, ok = RetryAfter(errors.New("boom"))
	assert.False(t, ok)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseRetryAfter("5"))
	assert.Equal(t, 5*time.Second, ParseRetryAfter(" 5 "))
	assert.Zero(t, ParseRetryAfter(""))
	assert.Zero(t, ParseRetryAfter("-3"))
	assert.Zero(t, ParseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}

func TestStatusError_NotFound(t *testing.T) {
	err := fmt.Errorf("lookup: %w", &StatusError{Service: "musicbrainz", StatusCode: 404})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "HTTP 404")
}
