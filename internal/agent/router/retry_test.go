package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type statusErr struct{ code int }

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) StatusCode() int { return e.code }

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", statusErr{429}, true},
		{"500", statusErr{500}, true},
		{"400", statusErr{400}, false},
		{"rate limit message", errors.New("rate limited, try again"), true},
		{"overloaded message", errors.New("model overloaded"), true},
		{"503 in message", errors.New("upstream returned 503"), true},
		{"unrelated", errors.New("invalid api key"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBackoffDelay_BoundedAndGrowing(t *testing.T) {
	// Only the jitter-free floor grows; from retry 3 on it is capped at
	// 8000ms, so two capped delays differ only by their random jitter.
	floors := []time.Duration{1000, 2000, 4000, 8000, 8000, 8000, 8000}
	for retry, floor := range floors {
		floor *= time.Millisecond
		d := BackoffDelay(retry)
		if d < floor {
			t.Errorf("retry %d: backoff %v shorter than its %v floor", retry, d, floor)
		}
		if d > 8500*time.Millisecond {
			t.Errorf("retry %d: backoff %v exceeds the 8000ms+500ms ceiling", retry, d)
		}
	}
}

// TestBackoffDelay_S3Sequence pins S3's exact delay sequence (spec §4.1,
// spec.md:266): four consecutive 429s yield backoff waits of 1s, 2s, 4s
// before the router moves to the next provider.
func TestBackoffDelay_S3Sequence(t *testing.T) {
	want := []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond, 4000 * time.Millisecond}
	for retry, base := range want {
		d := BackoffDelay(retry)
		if d < base || d >= base+500*time.Millisecond {
			t.Errorf("retry %d: BackoffDelay = %v, want in [%v, %v)", retry, d, base, base+500*time.Millisecond)
		}
	}
}

func TestWithRetry_SucceedsAfterRetryableFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), 3, func(attempt int) error {
		attempts++
		if attempt < 3 {
			return errors.New("rate limited")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 4 {
		t.Errorf("expected 4 attempts (1 initial + 3 retries), got %d", attempts)
	}
}

func TestWithRetry_StopsImmediatelyOnNonRetryable(t *testing.T) {
	attempts := 0
	wantErr := errors.New("invalid request")
	err := WithRetry(context.Background(), 5, func(int) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wantErr, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected a single attempt for a non-retryable error, got %d", attempts)
	}
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), 2, func(int) error {
		attempts++
		return errors.New("503 service unavailable")
	})
	if err == nil {
		t.Fatal("expected an error once attempts are exhausted")
	}
	if attempts != 3 {
		t.Errorf("expected exactly maxRetries+1=3 calls, got %d", attempts)
	}
}

// TestWithRetry_S3AnthropicThenFailover exercises S3 end-to-end: Anthropic
// returns HTTP 429 on every attempt, is attempted 4 times total (1 initial +
// 3 retries), and the caller then moves on to the next provider.
func TestWithRetry_S3AnthropicThenFailover(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), 3, func(int) error {
		attempts++
		return statusErr{429}
	})
	if err == nil {
		t.Fatal("expected an error once Anthropic's retries are exhausted")
	}
	if attempts != 4 {
		t.Errorf("expected 4 attempts against Anthropic (S3), got %d", attempts)
	}
}
