package util

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for common failure modes
var (
	// ErrUnsupported indicates a scraper flavor or operation is not supported
	ErrUnsupported = errors.New("unsupported")

	// ErrCorrupt indicates a database or backup file failed its integrity check
	ErrCorrupt = errors.New("corrupt file")

	// ErrConflict indicates an entity already exists
	ErrConflict = errors.New("conflict")

	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrRateLimited indicates a remote service asked us to slow down
	ErrRateLimited = errors.New("rate limited")

	// ErrCancelled indicates work stopped because of a cancellation signal
	ErrCancelled = errors.New("cancelled")
)

// StatusError is returned by HTTP clients for unexpected response codes.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s returned HTTP %d: %s", e.Service, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s returned HTTP %d", e.Service, e.StatusCode)
}

// Unwrap maps 404 onto ErrNotFound so callers can use errors.Is.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == 404 {
		return ErrNotFound
	}
	return nil
}

// RateLimitError carries an optional Retry-After hint.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited (retry after %s)", e.Service, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Service)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfter extracts the Retry-After hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}

// ParseRetryAfter reads a Retry-After header given in seconds. HTTP dates
// are not honored and yield zero.
func ParseRetryAfter(h string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
