// Package quota tracks rolling per-provider usage over minute, hour, day
// and month windows and decides request admission. Buckets reset lazily on
// first access after their period elapses; there is no background timer.
// Only successful requests are billed against quota, failures are tracked
// separately for diagnostics.
package quota

import (
	"fmt"
	"sync"
	"time"

	"github.com/lmoretti/lingo-gateway/internal/domain"
)

// Limits configures one provider's admission limits. Zero means unlimited
// for that dimension. Limits are immutable for a registration and replaced
// wholesale by Reconfigure.
type Limits struct {
	RequestsPerMinute int64
	RequestsPerHour   int64
	RequestsPerDay    int64
	RequestsPerMonth  int64
	CharsPerMinute    int64
	CharsPerHour      int64
	CharsPerDay       int64
	CharsPerMonth     int64
	TokensPerMinute   int64
	TokensPerHour     int64
	TokensPerDay      int64
	TokensPerMonth    int64
	DailyCostUSD      float64
	MonthlyCostUSD    float64
}

// Decision is the outcome of an admission check. Denial is a normal
// outcome, not an error; the caller decides whether to wait, switch
// providers, or fail.
type Decision struct {
	Allowed bool
	Wait    time.Duration
	Reason  string
	Bucket  string
}

// Policy selects how SuggestAlternate orders admissible candidates.
type Policy int

const (
	PolicyPriority Policy = iota
	PolicyLowestCost
)

// CostEstimator projects the cost of a call for the lowest-cost policy.
// *cost.Calculator satisfies it.
type CostEstimator interface {
	Estimate(providerID string, chars int) float64
}

const (
	bucketMinute = iota
	bucketHour
	bucketDay
	bucketMonth
	bucketCount
)

var bucketNames = [bucketCount]string{"minute", "hour", "day", "month"}

var bucketPeriods = [bucketCount]time.Duration{
	time.Minute,
	time.Hour,
	24 * time.Hour,
	0, // calendar month, handled separately
}

// predictiveThreshold is the projected utilization at which admission is
// denied before the hard limit is reached.
const predictiveThreshold = 0.9

// historySize is how many completed minute windows feed the moving average.
const historySize = 5

// minHistory is how many completed windows are required before the
// predictive check activates.
const minHistory = 3

type usageBucket struct {
	requests int64
	chars    int64
	tokens   int64
	costUSD  float64
	resetAt  time.Time
}

type windowSample struct {
	requests int64
	chars    int64
	tokens   int64
}

type providerUsage struct {
	limits  Limits
	buckets [bucketCount]usageBucket
	history []windowSample
	failed  map[domain.ErrorClass]int64
}

// Tracker is the per-provider multi-window usage tracker. All state is
// instance-local; losing it only resets best-effort accounting.
type Tracker struct {
	mu        sync.Mutex
	providers map[string]*providerUsage
	estimator CostEstimator
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithCostEstimator enables the lowest-cost alternate policy.
func WithCostEstimator(e CostEstimator) Option {
	return func(t *Tracker) { t.estimator = e }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		providers: make(map[string]*providerUsage),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register creates usage state for a provider. Registering an existing
// provider replaces its limits and keeps accrued usage.
func (t *Tracker) Register(providerID string, limits Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pu, ok := t.providers[providerID]; ok {
		pu.limits = limits
		return
	}
	t.providers[providerID] = &providerUsage{
		limits: limits,
		failed: make(map[domain.ErrorClass]int64),
	}
}

// Reconfigure replaces a provider's limits wholesale.
func (t *Tracker) Reconfigure(providerID string, limits Limits) {
	t.Register(providerID, limits)
}

// CanAdmit decides whether a request estimated at estChars/estTokens may
// proceed now. It has no side effects: expired buckets are treated as
// empty without being reset. Unknown providers are admitted (no limits).
func (t *Tracker) CanAdmit(providerID string, estChars, estTokens int) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	pu, ok := t.providers[providerID]
	if !ok {
		return Decision{Allowed: true}
	}

	now := t.now()

	for i := 0; i < bucketCount; i++ {
		eff, resetAt := effectiveBucket(&pu.buckets[i], i, now)
		wait := resetAt.Sub(now)

		if d, violated := checkHard(pu.limits, i, eff, int64(estChars), int64(estTokens), wait); violated {
			return d
		}
	}

	if d, denied := t.checkPredictive(pu, now, int64(estChars), int64(estTokens)); denied {
		return d
	}

	return Decision{Allowed: true}
}

func checkHard(limits Limits, bucket int, eff usageBucket, estChars, estTokens int64, wait time.Duration) (Decision, bool) {
	reqLimit, charLimit, tokLimit := limitsFor(limits, bucket)

	deny := func(reason string) (Decision, bool) {
		return Decision{
			Allowed: false,
			Wait:    wait,
			Reason:  reason,
			Bucket:  bucketNames[bucket],
		}, true
	}

	if reqLimit > 0 && eff.requests+1 > reqLimit {
		return deny(fmt.Sprintf("requests limit %d reached", reqLimit))
	}
	if charLimit > 0 && eff.chars+estChars > charLimit {
		return deny(fmt.Sprintf("characters limit %d reached", charLimit))
	}
	if tokLimit > 0 && eff.tokens+estTokens > tokLimit {
		return deny(fmt.Sprintf("tokens limit %d reached", tokLimit))
	}

	if bucket == bucketDay && limits.DailyCostUSD > 0 && eff.costUSD >= limits.DailyCostUSD {
		return deny(fmt.Sprintf("daily cost budget $%.2f reached", limits.DailyCostUSD))
	}
	if bucket == bucketMonth && limits.MonthlyCostUSD > 0 && eff.costUSD >= limits.MonthlyCostUSD {
		return deny(fmt.Sprintf("monthly cost budget $%.2f reached", limits.MonthlyCostUSD))
	}

	return Decision{}, false
}

// checkPredictive denies early when the moving average of recent completed
// minute windows projects a bucket exceeding 90% of its limit before it
// resets. This smooths client-visible backoff compared to waiting for a
// hard rejection.
func (t *Tracker) checkPredictive(pu *providerUsage, now time.Time, estChars, estTokens int64) (Decision, bool) {
	if len(pu.history) < minHistory {
		return Decision{}, false
	}

	var avgReq, avgChars, avgTokens float64
	for _, s := range pu.history {
		avgReq += float64(s.requests)
		avgChars += float64(s.chars)
		avgTokens += float64(s.tokens)
	}
	n := float64(len(pu.history))
	avgReq, avgChars, avgTokens = avgReq/n, avgChars/n, avgTokens/n

	_, minuteReset := effectiveBucket(&pu.buckets[bucketMinute], bucketMinute, now)
	wait := minuteReset.Sub(now)

	for i := 0; i < bucketCount; i++ {
		eff, resetAt := effectiveBucket(&pu.buckets[i], i, now)
		minutesLeft := resetAt.Sub(now).Minutes()
		if minutesLeft <= 0 {
			continue
		}

		reqLimit, charLimit, tokLimit := limitsFor(pu.limits, i)

		deny := func(dim string) (Decision, bool) {
			return Decision{
				Allowed: false,
				Wait:    wait,
				Reason:  fmt.Sprintf("projected %s usage exceeds %d%% of %s limit", dim, int(predictiveThreshold*100), bucketNames[i]),
				Bucket:  bucketNames[i],
			}, true
		}

		if reqLimit > 0 && float64(eff.requests+1)+avgReq*minutesLeft > predictiveThreshold*float64(reqLimit) {
			return deny("request")
		}
		if charLimit > 0 && float64(eff.chars+estChars)+avgChars*minutesLeft > predictiveThreshold*float64(charLimit) {
			return deny("character")
		}
		if tokLimit > 0 && float64(eff.tokens+estTokens)+avgTokens*minutesLeft > predictiveThreshold*float64(tokLimit) {
			return deny("token")
		}
	}

	return Decision{}, false
}

// RecordUsage bills a successful request against every relevant bucket.
func (t *Tracker) RecordUsage(providerID string, u domain.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pu, ok := t.providers[providerID]
	if !ok {
		pu = &providerUsage{failed: make(map[domain.ErrorClass]int64)}
		t.providers[providerID] = pu
	}

	now := t.now()
	for i := 0; i < bucketCount; i++ {
		t.rollover(pu, i, now)
		b := &pu.buckets[i]
		b.requests += int64(u.Requests)
		b.chars += int64(u.Chars)
		b.tokens += int64(u.Tokens)
		b.costUSD += u.CostUSD
	}
}

// RecordFailure counts a failed request for diagnostics. Failures are
// never billed against quota.
func (t *Tracker) RecordFailure(providerID string, class domain.ErrorClass) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pu, ok := t.providers[providerID]
	if !ok {
		pu = &providerUsage{failed: make(map[domain.ErrorClass]int64)}
		t.providers[providerID] = pu
	}
	pu.failed[class]++
}

// SeedMonthCost pre-loads the month bucket's accrued cost, typically from
// the usage journal after a restart.
func (t *Tracker) SeedMonthCost(providerID string, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pu, ok := t.providers[providerID]
	if !ok {
		return
	}
	now := t.now()
	t.rollover(pu, bucketMonth, now)
	pu.buckets[bucketMonth].costUSD += costUSD
}

// SuggestAlternate returns the best candidate whose admission check
// currently succeeds: first by priority order, or the cheapest admissible
// one under PolicyLowestCost. The second return is false when no candidate
// is admissible.
func (t *Tracker) SuggestAlternate(candidates []string, estChars int, policy Policy) (string, bool) {
	estTokens := estChars / 4

	var admissible []string
	for _, id := range candidates {
		if d := t.CanAdmit(id, estChars, estTokens); d.Allowed {
			if policy == PolicyPriority {
				return id, true
			}
			admissible = append(admissible, id)
		}
	}

	if len(admissible) == 0 {
		return "", false
	}

	if policy == PolicyLowestCost && t.estimator != nil {
		best := admissible[0]
		bestCost := t.estimator.Estimate(best, estChars)
		for _, id := range admissible[1:] {
			if c := t.estimator.Estimate(id, estChars); c < bestCost {
				best, bestCost = id, c
			}
		}
		return best, true
	}

	return admissible[0], true
}

// Stats returns a snapshot of current usage for every provider.
func (t *Tracker) Stats() map[string]domain.ProviderUsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make(map[string]domain.ProviderUsageStats, len(t.providers))
	for id, pu := range t.providers {
		var ws [bucketCount]domain.WindowStats
		for i := 0; i < bucketCount; i++ {
			eff, resetAt := effectiveBucket(&pu.buckets[i], i, now)
			ws[i] = domain.WindowStats{
				Requests: eff.requests,
				Chars:    eff.chars,
				Tokens:   eff.tokens,
				ResetAt:  resetAt,
			}
		}
		var failed int64
		for _, n := range pu.failed {
			failed += n
		}
		monthEff, _ := effectiveBucket(&pu.buckets[bucketMonth], bucketMonth, now)
		out[id] = domain.ProviderUsageStats{
			Minute:  ws[bucketMinute],
			Hour:    ws[bucketHour],
			Day:     ws[bucketDay],
			Month:   ws[bucketMonth],
			CostUSD: monthEff.costUSD,
			Failed:  failed,
		}
	}
	return out
}

// rollover resets an elapsed bucket. Completed minute windows feed the
// moving-average history.
func (t *Tracker) rollover(pu *providerUsage, bucket int, now time.Time) {
	b := &pu.buckets[bucket]
	if b.resetAt.IsZero() {
		b.resetAt = nextReset(bucket, now)
		return
	}
	if now.Before(b.resetAt) {
		return
	}

	if bucket == bucketMinute && (b.requests > 0 || b.chars > 0 || b.tokens > 0) {
		pu.history = append(pu.history, windowSample{
			requests: b.requests,
			chars:    b.chars,
			tokens:   b.tokens,
		})
		if len(pu.history) > historySize {
			pu.history = pu.history[len(pu.history)-historySize:]
		}
	}

	*b = usageBucket{resetAt: nextReset(bucket, now)}
}

// effectiveBucket returns the bucket's contents as of now without mutating
// it: an elapsed bucket reads as empty.
func effectiveBucket(b *usageBucket, bucket int, now time.Time) (usageBucket, time.Time) {
	if b.resetAt.IsZero() || !now.Before(b.resetAt) {
		return usageBucket{}, nextReset(bucket, now)
	}
	return *b, b.resetAt
}

func nextReset(bucket int, now time.Time) time.Time {
	if bucket == bucketMonth {
		y, m, _ := now.UTC().Date()
		return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
	}
	return now.Add(bucketPeriods[bucket])
}

func limitsFor(l Limits, bucket int) (requests, chars, tokens int64) {
	switch bucket {
	case bucketMinute:
		return l.RequestsPerMinute, l.CharsPerMinute, l.TokensPerMinute
	case bucketHour:
		return l.RequestsPerHour, l.CharsPerHour, l.TokensPerHour
	case bucketDay:
		return l.RequestsPerDay, l.CharsPerDay, l.TokensPerDay
	default:
		return l.RequestsPerMonth, l.CharsPerMonth, l.TokensPerMonth
	}
}
