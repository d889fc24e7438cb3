package router

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterConfig bounds the client-side request rate issued to a single
// provider, independent of the circuit breaker's failure-based tripping.
// Zero value disables limiting.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// rateLimiterSet lazily creates one token bucket per provider name, grounded
// on taipm-go-deep-agent's per-key token bucket limiter.
type rateLimiterSet struct {
	cfg RateLimiterConfig

	mu    sync.Mutex
	byKey map[string]*rate.Limiter
}

func newRateLimiterSet(cfg RateLimiterConfig) *rateLimiterSet {
	return &rateLimiterSet{cfg: cfg, byKey: make(map[string]*rate.Limiter)}
}

func (s *rateLimiterSet) enabled() bool {
	return s.cfg.RequestsPerSecond > 0
}

// wait blocks until provider's bucket admits the request, or ctx is done.
// A disabled limiter (RequestsPerSecond <= 0) is a no-op.
func (s *rateLimiterSet) wait(ctx context.Context, provider string) error {
	if !s.enabled() {
		return nil
	}
	burst := s.cfg.Burst
	if burst < 1 {
		burst = 1
	}

	s.mu.Lock()
	l, ok := s.byKey[provider]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), burst)
		s.byKey[provider] = l
	}
	s.mu.Unlock()

	return l.Wait(ctx)
}
