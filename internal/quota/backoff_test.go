package quota

import (
	"testing"
	"time"

	"github.com/lmoretti/lingo-gateway/internal/domain"
)

func TestBackoffBase_NonDecreasing(t *testing.T) {
	classes := []domain.ErrorClass{
		domain.ClassNetwork,
		domain.ClassTimeout,
		domain.ClassQuota,
		domain.ClassModel,
		domain.ClassInternal,
	}

	for _, class := range classes {
		prev := time.Duration(0)
		for attempt := 0; attempt < 20; attempt++ {
			d := backoffBase(attempt, class)
			if d < prev {
				t.Errorf("class %s: delay decreased at attempt %d (%s < %s)", class, attempt, d, prev)
			}
			prev = d
		}
	}
}

func TestBackoffBase_Capped(t *testing.T) {
	if d := backoffBase(50, domain.ClassNetwork); d != 30*time.Second {
		t.Errorf("expected network cap 30s, got %s", d)
	}
	if d := backoffBase(50, domain.ClassQuota); d != 5*time.Minute {
		t.Errorf("expected quota cap 5m, got %s", d)
	}
}

func TestBackoffDelay_JitterBound(t *testing.T) {
	for i := 0; i < 100; i++ {
		base := backoffBase(3, domain.ClassNetwork)
		d := BackoffDelay(3, domain.ClassNetwork)
		if d < base {
			t.Fatalf("jittered delay below base: %s < %s", d, base)
		}
		if max := base + time.Duration(float64(base)*jitterFraction); d > max {
			t.Fatalf("jittered delay above bound: %s > %s", d, max)
		}
	}
}

func TestBackoffDelay_NegativeAttempt(t *testing.T) {
	if d := BackoffDelay(-1, domain.ClassTimeout); d < time.Second {
		t.Errorf("negative attempt should clamp to base, got %s", d)
	}
}
