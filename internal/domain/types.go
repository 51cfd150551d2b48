package domain

import "time"

// LangAuto is the sentinel source language requesting detection.
// It must never appear in cache keys or provider calls.
const LangAuto = "auto"

// TranslateRequest is a single dispatch unit. Texts always holds at least
// one element; single-text callers are normalized into a one-element batch.
type TranslateRequest struct {
	Texts         []string `json:"texts"`
	SourceLang    string   `json:"source_lang"`
	TargetLang    string   `json:"target_lang"`
	Provider      string   `json:"provider,omitempty"`
	ProviderOrder []string `json:"provider_order,omitempty"`
	RequestID     string   `json:"request_id,omitempty"`
	OwnerID       string   `json:"owner_id,omitempty"`

	// MaxWaitMs bounds the admission wait loop. Zero fails fast with a
	// retryable quota error instead of blocking.
	MaxWaitMs int `json:"max_wait_ms,omitempty"`

	// Parallelism caps concurrent provider calls for cloud sub-batches.
	// Local providers are always sequential.
	Parallelism int `json:"parallelism,omitempty"`
}

// TranslateResult is the reassembled outcome of a dispatch, item order
// matching the request's Texts order.
type TranslateResult struct {
	RequestID  string       `json:"request_id"`
	Items      []ResultItem `json:"items"`
	Provider   string       `json:"provider,omitempty"`
	SourceLang string       `json:"source_lang"`
	TargetLang string       `json:"target_lang"`
	Route      RouteKind    `json:"route"`
	CacheHits  int          `json:"cache_hits"`
	LatencyMs  int64        `json:"latency_ms"`
}

// ResultItem carries either a translation or a per-item classified error.
type ResultItem struct {
	Text       string     `json:"text,omitempty"`
	Cached     bool       `json:"cached,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
}

// RouteKind describes how a language pair was served.
type RouteKind string

const (
	RouteDirect  RouteKind = "direct"
	RoutePivot   RouteKind = "pivot"
	RouteCached  RouteKind = "cached"  // every item served from cache
	RouteSkipped RouteKind = "skipped" // source == target, nothing to do
)

// Hop is one provider-servable leg of a route.
type Hop struct {
	SourceLang string
	TargetLang string
	Model      string
}

// Route is a resolved path for a language pair: one direct hop or exactly
// two pivot hops through a bridge language.
type Route struct {
	Kind RouteKind
	Hops []Hop
}

// Usage is the billable outcome of one successful provider call.
type Usage struct {
	Requests int
	Chars    int
	Tokens   int
	CostUSD  float64
}

// UsageRecord is the journal row written for every terminal provider call,
// successful or failed. Failed rows are diagnostics and never count
// against quota.
type UsageRecord struct {
	RequestID  string
	Provider   string
	SourceLang string
	TargetLang string
	Chars      int
	Tokens     int
	CostUSD    float64
	Cached     bool
	LatencyMs  int64
	Status     string
	Timestamp  time.Time
}

// Stats is the merged observability snapshot served by the control plane.
type Stats struct {
	Quota    map[string]ProviderUsageStats `json:"quota"`
	Cache    CacheStats                    `json:"cache"`
	InFlight int                           `json:"in_flight"`

	// Remaining holds provider-reported remaining quota, present only for
	// providers that support introspection.
	Remaining map[string]RemainingQuota `json:"remaining,omitempty"`
}

// RemainingQuota is a provider's self-reported remaining allowance. Zero
// fields mean the provider does not report that dimension.
type RemainingQuota struct {
	Requests int64 `json:"requests,omitempty"`
	Chars    int64 `json:"chars,omitempty"`
	Tokens   int64 `json:"tokens,omitempty"`
}

// ProviderUsageStats is one provider's current window usage.
type ProviderUsageStats struct {
	Minute  WindowStats `json:"minute"`
	Hour    WindowStats `json:"hour"`
	Day     WindowStats `json:"day"`
	Month   WindowStats `json:"month"`
	CostUSD float64     `json:"cost_usd_month"`
	Failed  int64       `json:"failed_requests"`
}

// WindowStats is usage inside one quota bucket.
type WindowStats struct {
	Requests int64     `json:"requests"`
	Chars    int64     `json:"chars"`
	Tokens   int64     `json:"tokens"`
	ResetAt  time.Time `json:"reset_at"`
}

// CacheStats is the cache's observable state for the merged snapshot.
type CacheStats struct {
	Entries   int     `json:"entries"`
	TotalSize int64   `json:"total_size"`
	MaxSize   int64   `json:"max_size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// EstimateTokens gives a rough token count for quota estimation.
// Roughly 4 characters per token plus a small per-request overhead.
func EstimateTokens(texts []string) int {
	total := 3
	for _, t := range texts {
		total += len(t)/4 + 4
	}
	return total
}
