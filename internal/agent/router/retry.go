package router

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var retryablePattern = regexp.MustCompile(`(?i)rate.?limit|overloaded|\b503\b`)

// IsRetryable reports whether err should be retried within a single
// provider attempt, per spec §4.1: HTTP 429/5xx status, or a message
// matching rate-limit/overloaded/503 patterns.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := statusCode(err); ok {
		if code == http.StatusTooManyRequests || code >= 500 {
			return true
		}
	}
	return retryablePattern.MatchString(err.Error())
}

// statusCoder is satisfied by provider errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

func statusCode(err error) (int, bool) {
	if sc, ok := err.(statusCoder); ok {
		return sc.StatusCode(), true
	}
	// Fall back to scanning the message for a 3-digit HTTP-looking code.
	msg := err.Error()
	for _, tok := range strings.Fields(msg) {
		tok = strings.Trim(tok, ":,()[]")
		if len(tok) == 3 {
			if n, convErr := strconv.Atoi(tok); convErr == nil && n >= 400 && n < 600 {
				return n, true
			}
		}
	}
	return 0, false
}

// BackoffDelay returns the spec's exponential backoff with jitter for a
// 0-indexed retry number: min(1000*2^retry, 8000)ms + uniform[0,500)ms.
// retry=0 is the delay before the first retry (1s), retry=1 before the
// second (2s), retry=2 before the third (4s) — per S3 (spec §4.1).
func BackoffDelay(retry int) time.Duration {
	ms := math.Min(1000*math.Pow(2, float64(retry)), 8000)
	jitter := rand.Float64() * 500 // #nosec G404 -- jitter, not security sensitive
	return time.Duration(ms+jitter) * time.Millisecond
}

// WithRetry runs op for an initial attempt plus up to maxRetries retries
// (maxRetries+1 attempts total), sleeping BackoffDelay between retryable
// failures. It returns the first success, the last error once retries are
// exhausted, or immediately on a non-retryable error. Attempts are
// 0-indexed: attempt 0 is the initial call, matching BackoffDelay's
// retry-number indexing for the wait that follows it.
func WithRetry(ctx context.Context, maxRetries int, op func(attempt int) error) error {
	var lastErr error
	maxAttempts := maxRetries + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-time.After(BackoffDelay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
