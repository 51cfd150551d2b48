package quota

import (
	"testing"
	"time"

	"github.com/lmoretti/lingo-gateway/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	return NewTracker(WithClock(clock.Now)), clock
}

func TestCanAdmit_RequestLimit(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Register("deepl", Limits{RequestsPerMinute: 2})

	for i := 0; i < 2; i++ {
		d := tr.CanAdmit("deepl", 100, 25)
		if !d.Allowed {
			t.Fatalf("request %d should be admitted: %+v", i, d)
		}
		tr.RecordUsage("deepl", domain.Usage{Requests: 1, Chars: 100, Tokens: 25})
	}

	d := tr.CanAdmit("deepl", 100, 25)
	if d.Allowed {
		t.Fatal("third request should be denied")
	}
	if d.Bucket != "minute" {
		t.Errorf("expected minute bucket, got %s", d.Bucket)
	}
	if d.Wait <= 0 || d.Wait > time.Minute {
		t.Errorf("wait should be within the minute window, got %s", d.Wait)
	}
}

func TestCanAdmit_CharLimitLazyReset(t *testing.T) {
	tr, clock := newTestTracker()
	tr.Register("deepl", Limits{CharsPerMinute: 500})

	tr.RecordUsage("deepl", domain.Usage{Requests: 1, Chars: 450})

	if d := tr.CanAdmit("deepl", 100, 0); d.Allowed {
		t.Fatal("expected denial over character limit")
	}

	clock.Advance(61 * time.Second)

	if d := tr.CanAdmit("deepl", 100, 0); !d.Allowed {
		t.Fatalf("expected admission after window elapsed: %+v", d)
	}
}

func TestCanAdmit_HasNoSideEffects(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Register("deepl", Limits{RequestsPerMinute: 1})

	for i := 0; i < 10; i++ {
		if d := tr.CanAdmit("deepl", 10, 2); !d.Allowed {
			t.Fatalf("CanAdmit must not consume quota (iteration %d)", i)
		}
	}
}

func TestCanAdmit_CostBudget(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Register("openai", Limits{MonthlyCostUSD: 1.0})

	tr.RecordUsage("openai", domain.Usage{Requests: 1, Chars: 100, CostUSD: 1.0})

	d := tr.CanAdmit("openai", 100, 25)
	if d.Allowed {
		t.Fatal("expected denial once monthly budget is spent")
	}
	if d.Bucket != "month" {
		t.Errorf("expected month bucket, got %s", d.Bucket)
	}
}

func TestCanAdmit_UnknownProviderIsUnlimited(t *testing.T) {
	tr, _ := newTestTracker()
	if d := tr.CanAdmit("nobody", 1<<20, 1<<18); !d.Allowed {
		t.Fatal("unregistered provider should not be limited")
	}
}

func TestRecordFailure_NotBilled(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Register("deepl", Limits{RequestsPerMinute: 1})

	tr.RecordFailure("deepl", domain.ClassNetwork)
	tr.RecordFailure("deepl", domain.ClassTimeout)

	if d := tr.CanAdmit("deepl", 10, 2); !d.Allowed {
		t.Fatal("failures must not count against quota")
	}

	stats := tr.Stats()
	if stats["deepl"].Failed != 2 {
		t.Errorf("expected 2 failures recorded, got %d", stats["deepl"].Failed)
	}
}

func TestPredictiveDenial(t *testing.T) {
	tr, clock := newTestTracker()
	// 1000 chars/hour hard limit; sustained 200 chars/min projects
	// exhaustion well before the hour resets.
	tr.Register("deepl", Limits{CharsPerHour: 1000})

	for i := 0; i < 3; i++ {
		tr.RecordUsage("deepl", domain.Usage{Requests: 1, Chars: 200})
		clock.Advance(61 * time.Second)
	}
	// One more to force the last minute window into history.
	tr.RecordUsage("deepl", domain.Usage{Requests: 1, Chars: 200})

	d := tr.CanAdmit("deepl", 200, 0)
	if d.Allowed {
		t.Fatal("expected predictive denial below the hard limit")
	}
	if d.Wait > time.Minute {
		t.Errorf("predictive wait should be within the minute window, got %s", d.Wait)
	}
}

func TestPredictiveNeedsHistory(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Register("deepl", Limits{CharsPerHour: 1000})

	// Heavy usage but no completed windows yet: only the hard limit applies.
	tr.RecordUsage("deepl", domain.Usage{Requests: 1, Chars: 800})

	if d := tr.CanAdmit("deepl", 100, 0); !d.Allowed {
		t.Fatalf("predictive check must not fire without history: %+v", d)
	}
}

func TestSuggestAlternate_Priority(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Register("a", Limits{RequestsPerMinute: 1})
	tr.Register("b", Limits{})
	tr.Register("c", Limits{})

	tr.RecordUsage("a", domain.Usage{Requests: 1})

	id, ok := tr.SuggestAlternate([]string{"a", "b", "c"}, 100, PolicyPriority)
	if !ok || id != "b" {
		t.Errorf("expected b, got %q ok=%v", id, ok)
	}
}

type fixedEstimator map[string]float64

func (f fixedEstimator) Estimate(id string, chars int) float64 { return f[id] }

func TestSuggestAlternate_LowestCost(t *testing.T) {
	est := fixedEstimator{"a": 0.5, "b": 0.1, "c": 0.3}
	clock := &fakeClock{now: time.Now()}
	tr := NewTracker(WithClock(clock.Now), WithCostEstimator(est))
	tr.Register("a", Limits{})
	tr.Register("b", Limits{})
	tr.Register("c", Limits{})

	id, ok := tr.SuggestAlternate([]string{"a", "b", "c"}, 100, PolicyLowestCost)
	if !ok || id != "b" {
		t.Errorf("expected cheapest admissible b, got %q ok=%v", id, ok)
	}
}

func TestSuggestAlternate_NoneAdmissible(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Register("a", Limits{RequestsPerMinute: 1})
	tr.RecordUsage("a", domain.Usage{Requests: 1})

	if _, ok := tr.SuggestAlternate([]string{"a"}, 100, PolicyPriority); ok {
		t.Error("expected no admissible candidate")
	}
}

func TestMonthBucketCalendarReset(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)}
	tr := NewTracker(WithClock(clock.Now))
	tr.Register("deepl", Limits{RequestsPerMonth: 1})

	tr.RecordUsage("deepl", domain.Usage{Requests: 1})

	if d := tr.CanAdmit("deepl", 10, 2); d.Allowed {
		t.Fatal("expected monthly denial")
	}

	clock.Advance(2 * time.Hour) // crosses into April

	if d := tr.CanAdmit("deepl", 10, 2); !d.Allowed {
		t.Fatalf("expected admission after month boundary: %+v", d)
	}
}

func TestSeedMonthCost(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Register("openai", Limits{MonthlyCostUSD: 5})

	tr.SeedMonthCost("openai", 5)

	if d := tr.CanAdmit("openai", 10, 2); d.Allowed {
		t.Fatal("seeded month cost should count against the budget")
	}
}
