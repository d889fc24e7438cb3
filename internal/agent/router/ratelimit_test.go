package router

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterSet_DisabledByDefault(t *testing.T) {
	s := newRateLimiterSet(RateLimiterConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.wait(ctx, "anthropic"); err != nil {
		t.Fatalf("wait() on disabled limiter error = %v", err)
	}
}

func TestRateLimiterSet_PerProviderIsolation(t *testing.T) {
	s := newRateLimiterSet(RateLimiterConfig{RequestsPerSecond: 1000, Burst: 1})
	ctx := context.Background()
	if err := s.wait(ctx, "anthropic"); err != nil {
		t.Fatalf("first wait() for anthropic error = %v", err)
	}
	// openai has its own bucket and should not be throttled by anthropic's use.
	if err := s.wait(ctx, "openai"); err != nil {
		t.Fatalf("wait() for distinct provider error = %v", err)
	}
}

func TestRateLimiterSet_BlocksBeyondBurst(t *testing.T) {
	s := newRateLimiterSet(RateLimiterConfig{RequestsPerSecond: 1, Burst: 1})
	ctx := context.Background()
	if err := s.wait(ctx, "anthropic"); err != nil {
		t.Fatalf("first wait() error = %v", err)
	}
	tight, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	if err := s.wait(tight, "anthropic"); err == nil {
		t.Fatal("expected second immediate wait() to block past a 5ms deadline")
	}
}
