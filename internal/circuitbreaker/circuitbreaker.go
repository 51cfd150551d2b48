// Package circuitbreaker protects translation providers from repeated
// failing calls. A tripped breaker makes the router skip the provider
// until a recovery probe succeeds.
//
// States:
//   - Closed: normal operation, requests pass through
//   - Open: provider unhealthy, requests skip it immediately
//   - Half-Open: testing recovery, limited requests allowed
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/lmoretti/lingo-gateway/internal/domain"
	"github.com/lmoretti/lingo-gateway/internal/metrics"
)

// State represents the current state of a circuit breaker.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // failing fast
	StateHalfOpen              // testing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config defines breaker behavior.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // successes to close from half-open
	Timeout          time.Duration // time open before probing recovery
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// Breaker is a per-provider in-memory circuit breaker.
type Breaker struct {
	mu        sync.Mutex
	cfg       Config
	id        string // set when registry-owned; publishes state metrics
	state     State
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a request may pass. An open breaker transitions to
// half-open once its timeout has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) >= b.cfg.Timeout {
			b.setState(StateHalfOpen)
			b.successes = 0
			return nil
		}
		return domain.ErrCircuitBreakerOpen
	}
	return nil
}

// RecordSuccess notes a successful call. Enough successes in half-open
// close the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.setState(StateClosed)
			b.failures = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure notes a failed call. A half-open failure reopens
// immediately; enough closed failures open the circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	}
}

func (b *Breaker) open() {
	b.setState(StateOpen)
	b.openedAt = b.now()
	b.failures = 0
	b.successes = 0
}

// setState transitions the breaker and publishes the gauge for
// registry-owned breakers. Caller holds the mutex.
func (b *Breaker) setState(s State) {
	b.state = s
	if b.id != "" {
		metrics.SetCircuitBreakerState(b.id, int(s))
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry holds one breaker per provider.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the provider's breaker, creating it on first use.
func (r *Registry) For(providerID string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[providerID]
	if !ok {
		b = New(r.cfg)
		b.id = providerID
		metrics.SetCircuitBreakerState(providerID, int(StateClosed))
		r.breakers[providerID] = b
	}
	return b
}
