package circuitbreaker

import (
	"testing"
	"time"

	"github.com/lmoretti/lingo-gateway/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if b.State() != StateClosed {
			t.Fatalf("breaker opened too early at failure %d", i+1)
		}
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatal("expected open after threshold failures")
	}
	if err := b.Allow(); err == nil {
		t.Fatal("open breaker should refuse requests")
	}
}

func TestBreakerHalfOpenAndRecovery(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	now = now.Add(20 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open probe to pass: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}

	b.RecordSuccess()
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after recovery, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(20 * time.Millisecond)
	b.Allow()
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Fatalf("expected reopen after half-open failure, got %s", b.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()

	if b.State() != StateClosed {
		t.Fatal("interleaved success should reset the failure count")
	}
}

func TestRegistryBreakerPublishesStateGauge(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Millisecond})
	b := r.For("gauge-test")
	now := time.Now()
	b.now = func() time.Time { return now }

	gauge := func() float64 {
		return testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("gauge-test"))
	}

	if got := gauge(); got != float64(StateClosed) {
		t.Fatalf("expected closed gauge on creation, got %v", got)
	}

	b.RecordFailure()
	if got := gauge(); got != float64(StateOpen) {
		t.Fatalf("expected open gauge after failure, got %v", got)
	}

	now = now.Add(20 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open probe to pass: %v", err)
	}
	if got := gauge(); got != float64(StateHalfOpen) {
		t.Fatalf("expected half-open gauge after timeout, got %v", got)
	}

	b.RecordSuccess()
	if got := gauge(); got != float64(StateClosed) {
		t.Fatalf("expected closed gauge after recovery, got %v", got)
	}
}

func TestRegistryReturnsSameBreaker(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	if r.For("deepl") != r.For("deepl") {
		t.Error("expected the same breaker per provider")
	}
	if r.For("deepl") == r.For("openai") {
		t.Error("expected distinct breakers across providers")
	}
}
