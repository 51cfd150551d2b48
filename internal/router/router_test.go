package router

import (
	"errors"
	"testing"

	"github.com/lmoretti/lingo-gateway/internal/circuitbreaker"
	"github.com/lmoretti/lingo-gateway/internal/domain"
	"github.com/lmoretti/lingo-gateway/internal/quota"
)

func TestResolveRoute_Direct(t *testing.T) {
	table := NewRouteTable("en")
	table.Add("en", "fr", "en-fr-v1")

	route, err := table.Resolve("en", "fr")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.Kind != domain.RouteDirect {
		t.Errorf("expected direct route, got %s", route.Kind)
	}
	if len(route.Hops) != 1 || route.Hops[0].Model != "en-fr-v1" {
		t.Errorf("unexpected hops: %+v", route.Hops)
	}
}

func TestResolveRoute_PivotThroughBridge(t *testing.T) {
	table := NewRouteTable("en")
	table.Add("fi", "en", "fi-en-v1")
	table.Add("en", "zh", "en-zh-v1")

	route, err := table.Resolve("fi", "zh")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.Kind != domain.RoutePivot {
		t.Fatalf("expected pivot route, got %s", route.Kind)
	}
	if len(route.Hops) != 2 {
		t.Fatalf("pivot chains are exactly two hops, got %d", len(route.Hops))
	}
	if route.Hops[0].SourceLang != "fi" || route.Hops[0].TargetLang != "en" {
		t.Errorf("unexpected first hop: %+v", route.Hops[0])
	}
	if route.Hops[1].SourceLang != "en" || route.Hops[1].TargetLang != "zh" {
		t.Errorf("unexpected second hop: %+v", route.Hops[1])
	}
}

func TestResolveRoute_Unsupported(t *testing.T) {
	table := NewRouteTable("en")
	table.Add("fi", "en", "fi-en-v1")
	// No en->zh leg: fi->zh has no bridge.

	_, err := table.Resolve("fi", "zh")
	if !errors.Is(err, domain.ErrUnsupportedPair) {
		t.Errorf("expected ErrUnsupportedPair, got %v", err)
	}
}

func TestResolveRoute_DirectWinsOverPivot(t *testing.T) {
	table := NewRouteTable("en")
	table.Add("fi", "zh", "fi-zh-v1")
	table.Add("fi", "en", "fi-en-v1")
	table.Add("en", "zh", "en-zh-v1")

	route, err := table.Resolve("fi", "zh")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.Kind != domain.RouteDirect {
		t.Errorf("direct entry must win over pivot, got %s", route.Kind)
	}
}

func TestSelectProvider_PreferredFirst(t *testing.T) {
	tracker := quota.NewTracker()
	tracker.Register("a", quota.Limits{})
	tracker.Register("b", quota.Limits{})

	r := New(tracker, nil, NewRouteTable("en"))

	if got := r.SelectProvider("b", []string{"a", "b", "c"}, 100); got != "b" {
		t.Errorf("expected preferred b, got %s", got)
	}
}

func TestSelectProvider_SkipsExhausted(t *testing.T) {
	tracker := quota.NewTracker()
	tracker.Register("a", quota.Limits{RequestsPerMinute: 1})
	tracker.Register("b", quota.Limits{})
	tracker.RecordUsage("a", domain.Usage{Requests: 1})

	r := New(tracker, nil, NewRouteTable("en"))

	if got := r.SelectProvider("a", []string{"a", "b"}, 100); got != "b" {
		t.Errorf("expected fallback to b, got %s", got)
	}
}

func TestSelectProvider_SkipsOpenBreaker(t *testing.T) {
	tracker := quota.NewTracker()
	tracker.Register("a", quota.Limits{})
	tracker.Register("b", quota.Limits{})

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: 1})
	breakers.For("a").RecordFailure()

	r := New(tracker, breakers, NewRouteTable("en"))

	if got := r.SelectProvider("a", []string{"a", "b"}, 100); got != "b" {
		t.Errorf("expected breaker-open a to be skipped, got %s", got)
	}
}

func TestSelectProvider_FallsBackToPreferredWhenNoneAdmissible(t *testing.T) {
	tracker := quota.NewTracker()
	tracker.Register("a", quota.Limits{RequestsPerMinute: 1})
	tracker.Register("b", quota.Limits{RequestsPerMinute: 1})
	tracker.RecordUsage("a", domain.Usage{Requests: 1})
	tracker.RecordUsage("b", domain.Usage{Requests: 1})

	r := New(tracker, nil, NewRouteTable("en"))

	if got := r.SelectProvider("b", []string{"a", "b"}, 100); got != "b" {
		t.Errorf("expected preferred b back, got %s", got)
	}
}

func TestSelectProvider_WrapsAroundOrder(t *testing.T) {
	tracker := quota.NewTracker()
	tracker.Register("a", quota.Limits{})
	tracker.Register("b", quota.Limits{RequestsPerMinute: 1})
	tracker.Register("c", quota.Limits{RequestsPerMinute: 1})
	tracker.RecordUsage("b", domain.Usage{Requests: 1})
	tracker.RecordUsage("c", domain.Usage{Requests: 1})

	r := New(tracker, nil, NewRouteTable("en"))

	// Preferred b is exhausted, so is c; the scan wraps to a.
	if got := r.SelectProvider("b", []string{"a", "b", "c"}, 100); got != "a" {
		t.Errorf("expected wrap-around to a, got %s", got)
	}
}
