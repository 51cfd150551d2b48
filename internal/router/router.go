// Package router resolves language pairs to servable routes and orders
// providers by priority and current admissibility.
package router

import (
	"fmt"

	"github.com/lmoretti/lingo-gateway/internal/circuitbreaker"
	"github.com/lmoretti/lingo-gateway/internal/domain"
	"github.com/lmoretti/lingo-gateway/internal/quota"
)

type pair struct {
	source string
	target string
}

// RouteTable maps language pairs to direct models. Pairs without a direct
// model are served through the bridge language when both legs exist;
// chains are exactly two hops, never more.
type RouteTable struct {
	direct map[pair]string
	bridge string
}

func NewRouteTable(bridge string) *RouteTable {
	if bridge == "" {
		bridge = "en"
	}
	return &RouteTable{
		direct: make(map[pair]string),
		bridge: bridge,
	}
}

// Add declares a directly servable pair.
func (t *RouteTable) Add(source, target, model string) {
	t.direct[pair{source, target}] = model
}

// Bridge returns the configured pivot language.
func (t *RouteTable) Bridge() string { return t.bridge }

// Router selects providers and resolves routes, consulting the quota
// tracker and per-provider circuit breakers.
type Router struct {
	tracker  *quota.Tracker
	breakers *circuitbreaker.Registry
	table    *RouteTable
}

func New(tracker *quota.Tracker, breakers *circuitbreaker.Registry, table *RouteTable) *Router {
	return &Router{
		tracker:  tracker,
		breakers: breakers,
		table:    table,
	}
}

// SelectProvider returns the first provider, starting from preferred's
// position in the priority order, that is currently admissible and whose
// breaker is not open. When none qualify it returns preferred itself so
// the dispatcher surfaces a quota-exceeded outcome instead of silently
// dropping the request.
func (r *Router) SelectProvider(preferred string, order []string, estChars int) string {
	if len(order) == 0 {
		return preferred
	}

	start := 0
	for i, id := range order {
		if id == preferred {
			start = i
			break
		}
	}

	estTokens := estChars / 4
	for i := 0; i < len(order); i++ {
		id := order[(start+i)%len(order)]
		if r.breakers != nil && r.breakers.For(id).Allow() != nil {
			continue
		}
		if d := r.tracker.CanAdmit(id, estChars, estTokens); d.Allowed {
			return id
		}
	}

	if preferred != "" {
		return preferred
	}
	return order[0]
}

// ResolveRoute resolves a language pair to a direct route or a two-hop
// pivot through the bridge language.
func (r *Router) ResolveRoute(sourceLang, targetLang string) (domain.Route, error) {
	return r.table.Resolve(sourceLang, targetLang)
}

// Resolve looks up a direct entry first; failing that, a pivot whose legs
// both exist directly.
func (t *RouteTable) Resolve(sourceLang, targetLang string) (domain.Route, error) {
	if model, ok := t.direct[pair{sourceLang, targetLang}]; ok {
		return domain.Route{
			Kind: domain.RouteDirect,
			Hops: []domain.Hop{{SourceLang: sourceLang, TargetLang: targetLang, Model: model}},
		}, nil
	}

	first, okFirst := t.direct[pair{sourceLang, t.bridge}]
	second, okSecond := t.direct[pair{t.bridge, targetLang}]
	if okFirst && okSecond {
		return domain.Route{
			Kind: domain.RoutePivot,
			Hops: []domain.Hop{
				{SourceLang: sourceLang, TargetLang: t.bridge, Model: first},
				{SourceLang: t.bridge, TargetLang: targetLang, Model: second},
			},
		}, nil
	}

	return domain.Route{}, fmt.Errorf("%s->%s: %w", sourceLang, targetLang, domain.ErrUnsupportedPair)
}
