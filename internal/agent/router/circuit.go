package router

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CircuitState is one of the three states a provider circuit can be in.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig configures failure-threshold/cooldown behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultCircuitBreakerConfig matches the spec's defaults: 5 consecutive
// failures opens the circuit, 60s cooldown before a half-open probe.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

type circuitEntry struct {
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
}

// CircuitBreaker is a per-provider three-state machine:
//
//	CLOSED    --[failures >= threshold]--> OPEN
//	OPEN      --[elapsed >= cooldown, on IsAvailable query]--> HALF_OPEN
//	HALF_OPEN --[RecordSuccess]--> CLOSED
//	HALF_OPEN --[RecordFailure]--> OPEN (cooldown restarted)
//	CLOSED    --[RecordSuccess]--> CLOSED (failures reset to 0)
//
// The OPEN -> HALF_OPEN transition is lazy: it happens during the next
// IsAvailable query, not via a background timer. Grounded on
// haasonsaas-nexus's internal/agent/failover.go ProviderState, generalized
// from its bool CircuitOpen flag to the spec's three explicit states.
type CircuitBreaker struct {
	mu      sync.Mutex
	cfg     CircuitBreakerConfig
	entries map[string]*circuitEntry
	gauge   *prometheus.GaugeVec
}

// NewCircuitBreaker constructs a breaker. A nil registerer skips metrics
// registration (useful in tests).
func NewCircuitBreaker(cfg CircuitBreakerConfig, reg prometheus.Registerer) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nimbus_circuit_state",
		Help: "Per-provider circuit breaker state (0=closed,1=open,2=half_open).",
	}, []string{"provider"})
	if reg != nil {
		reg.MustRegister(gauge)
	}
	return &CircuitBreaker{cfg: cfg, entries: make(map[string]*circuitEntry), gauge: gauge}
}

func (b *CircuitBreaker) entry(name string) *circuitEntry {
	e, ok := b.entries[name]
	if !ok {
		e = &circuitEntry{}
		b.entries[name] = e
	}
	return e
}

// IsAvailable returns whether provider may currently be attempted. OPEN
// circuits lazily transition to HALF_OPEN here once the cooldown elapses.
func (b *CircuitBreaker) IsAvailable(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entry(name)
	switch e.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Since(e.lastFailure) >= b.cfg.Cooldown {
			e.state = CircuitHalfOpen
			b.observe(name, e.state)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess transitions HALF_OPEN -> CLOSED (or keeps CLOSED) and
// resets the failure counter.
func (b *CircuitBreaker) RecordSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entry(name)
	e.state = CircuitClosed
	e.consecutiveFailures = 0
	b.observe(name, e.state)
}

// RecordFailure increments the failure counter; once it reaches the
// configured threshold (or the circuit was HALF_OPEN) the circuit opens and
// the cooldown restarts from this failure.
func (b *CircuitBreaker) RecordFailure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entry(name)
	e.consecutiveFailures++
	e.lastFailure = time.Now()
	if e.state == CircuitHalfOpen || e.consecutiveFailures >= b.cfg.FailureThreshold {
		e.state = CircuitOpen
	}
	b.observe(name, e.state)
}

// OpenCircuits enumerates providers currently OPEN with an unexpired
// cooldown.
func (b *CircuitBreaker) OpenCircuits() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for name, e := range b.entries {
		if e.state == CircuitOpen && time.Since(e.lastFailure) < b.cfg.Cooldown {
			out = append(out, name)
		}
	}
	return out
}

// State returns the current state for a provider (CLOSED if never seen).
func (b *CircuitBreaker) State(name string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[name]; ok {
		return e.state
	}
	return CircuitClosed
}

func (b *CircuitBreaker) observe(name string, state CircuitState) {
	if b.gauge == nil {
		return
	}
	b.gauge.WithLabelValues(name).Set(float64(state))
}
