// Package dispatch orchestrates translation requests: cache-first batch
// partitioning, route resolution, quota admission, provider invocation
// with cooperative cancellation, usage recording and result reassembly.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lmoretti/lingo-gateway/internal/cache"
	"github.com/lmoretti/lingo-gateway/internal/circuitbreaker"
	"github.com/lmoretti/lingo-gateway/internal/cost"
	"github.com/lmoretti/lingo-gateway/internal/domain"
	"github.com/lmoretti/lingo-gateway/internal/langdetect"
	"github.com/lmoretti/lingo-gateway/internal/metrics"
	"github.com/lmoretti/lingo-gateway/internal/provider"
	"github.com/lmoretti/lingo-gateway/internal/quota"
	"github.com/lmoretti/lingo-gateway/internal/router"
	"github.com/lmoretti/lingo-gateway/internal/telemetry"
)

// Journal persists usage records for diagnostics and billing.
type Journal interface {
	Record(ctx context.Context, rec domain.UsageRecord) error
}

// Exporter ships usage events to an external consumer.
type Exporter interface {
	Export(ctx context.Context, rec domain.UsageRecord) error
}

// BudgetChecker evaluates a provider's budget thresholds after usage is
// recorded.
type BudgetChecker interface {
	Check(providerID string)
}

// Config wires a Dispatcher. Tracker, Cache, Router and Providers are
// required; everything else is optional.
type Config struct {
	Tracker         *quota.Tracker
	Cache           *cache.Cache
	Router          *router.Router
	Breakers        *circuitbreaker.Registry
	Costs           *cost.Calculator
	Providers       map[string]provider.Registration
	DefaultProvider string
	PriorityOrder   []string

	RequestTimeout    time.Duration
	AdmitPollInterval time.Duration
	StatsInterval     time.Duration

	Journal  Journal
	Exporter Exporter
	Budget   BudgetChecker
}

// Dispatcher is the orchestrator. Quota and cache state are mutated only
// here; no other component writes them.
type Dispatcher struct {
	tracker         *quota.Tracker
	cache           *cache.Cache
	router          *router.Router
	breakers        *circuitbreaker.Registry
	costs           *cost.Calculator
	providers       map[string]provider.Registration
	defaultProvider string
	priorityOrder   []string

	requestTimeout time.Duration
	admitPoll      time.Duration
	statsInterval  time.Duration

	journal  Journal
	exporter Exporter
	budget   BudgetChecker

	registry *Registry

	// localMu serializes calls to locally resident models: only one
	// inference context may be memory-resident at a time.
	localMu sync.Mutex

	subMu sync.Mutex
	subs  map[int]func(domain.Stats)
	nextS int

	introMu   sync.Mutex
	remaining map[string]domain.RemainingQuota
}

func New(cfg Config) *Dispatcher {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.AdmitPollInterval <= 0 {
		cfg.AdmitPollInterval = 200 * time.Millisecond
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 10 * time.Second
	}
	if cfg.Costs == nil {
		cfg.Costs = cost.NewCalculator()
	}

	return &Dispatcher{
		tracker:         cfg.Tracker,
		cache:           cfg.Cache,
		router:          cfg.Router,
		breakers:        cfg.Breakers,
		costs:           cfg.Costs,
		providers:       cfg.Providers,
		defaultProvider: cfg.DefaultProvider,
		priorityOrder:   cfg.PriorityOrder,
		requestTimeout:  cfg.RequestTimeout,
		admitPoll:       cfg.AdmitPollInterval,
		statsInterval:   cfg.StatsInterval,
		journal:         cfg.Journal,
		exporter:        cfg.Exporter,
		budget:          cfg.Budget,
		registry:        NewRegistry(),
		subs:            make(map[int]func(domain.Stats)),
		remaining:       make(map[string]domain.RemainingQuota),
	}
}

// Translate runs one request through the full pipeline. Items in the
// returned result follow the request's text order; individual item
// failures never abort siblings.
func (d *Dispatcher) Translate(ctx context.Context, req domain.TranslateRequest) (*domain.TranslateResult, error) {
	start := time.Now()

	if len(req.Texts) == 0 {
		return nil, fmt.Errorf("%w: no texts given", domain.ErrInvalidRequest)
	}
	if req.TargetLang == "" {
		return nil, fmt.Errorf("%w: target language required", domain.ErrInvalidRequest)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	ctx, span := telemetry.StartSpan(ctx, "dispatch.translate")
	defer span.End()

	// Resolve the actual source language before anything touches the
	// cache: keys derived from the "auto" sentinel would be meaningless.
	src := req.SourceLang
	if src == "" || src == domain.LangAuto {
		src = langdetect.Detect(strings.Join(req.Texts, " "))
	}
	tgt := req.TargetLang

	telemetry.AddRequestAttributes(span, req.RequestID, req.Provider, src, tgt)

	if src == tgt {
		items := make([]domain.ResultItem, len(req.Texts))
		for i, t := range req.Texts {
			items[i] = domain.ResultItem{Text: t}
		}
		return &domain.TranslateResult{
			RequestID:  req.RequestID,
			Items:      items,
			SourceLang: src,
			TargetLang: tgt,
			Route:      domain.RouteSkipped,
			LatencyMs:  time.Since(start).Milliseconds(),
		}, nil
	}

	preferred := req.Provider
	if preferred == "" {
		preferred = d.defaultProvider
	}
	order := req.ProviderOrder
	if len(order) == 0 {
		order = d.priorityOrder
	}

	// Select the provider before touching the cache so that lookups,
	// write-throughs and duplicate resolution all key on the provider
	// that would actually serve the request. Sizing uses the whole batch;
	// the miss set can only be smaller.
	allChars := 0
	for _, t := range req.Texts {
		allChars += len(t)
	}
	providerID := d.router.SelectProvider(preferred, order, allChars)
	reg, ok := d.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", providerID, domain.ErrProviderNotFound)
	}

	// Partition the batch into cache hits and misses. Duplicate texts
	// within one batch ride on the first occurrence's provider call and
	// are resolved from the cache after the write-through.
	items := make([]domain.ResultItem, len(req.Texts))
	var missIdx []int
	uniquePos := make(map[string]int)
	var dupIdx []int
	hits := 0
	for i, t := range req.Texts {
		if translated, ok := d.cache.Get(ctx, t, src, tgt, providerID); ok {
			items[i] = domain.ResultItem{Text: translated, Cached: true}
			hits++
			metrics.CacheHits.Inc()
			continue
		}
		metrics.CacheMisses.Inc()
		if _, seen := uniquePos[t]; seen {
			dupIdx = append(dupIdx, i)
			continue
		}
		uniquePos[t] = len(missIdx)
		missIdx = append(missIdx, i)
	}

	if len(missIdx) == 0 {
		metrics.RecordTranslation(providerID, src, tgt, "cached", time.Since(start).Seconds(), string(domain.RouteCached))
		return &domain.TranslateResult{
			RequestID:  req.RequestID,
			Items:      items,
			Provider:   providerID,
			SourceLang: src,
			TargetLang: tgt,
			Route:      domain.RouteCached,
			CacheHits:  hits,
			LatencyMs:  time.Since(start).Milliseconds(),
		}, nil
	}

	missTexts := make([]string, len(missIdx))
	estChars := 0
	for k, i := range missIdx {
		missTexts[k] = req.Texts[i]
		estChars += len(req.Texts[i])
	}
	estTokens := domain.EstimateTokens(missTexts)

	// Route and quota problems are surfaced before any provider call.
	route, err := d.router.ResolveRoute(src, tgt)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}
	telemetry.AddRouteAttribute(span, string(route.Kind))

	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()

	if err := d.registry.Register(req.RequestID, req.OwnerID, cancelReq); err != nil {
		return nil, err
	}
	metrics.InFlightRequests.Set(float64(d.registry.Len()))
	defer func() {
		d.registry.Remove(req.RequestID)
		metrics.InFlightRequests.Set(float64(d.registry.Len()))
	}()

	// Pivot routes admit each hop against the same wait budget: one
	// deadline is computed up front and shared across hops.
	maxWait := time.Duration(req.MaxWaitMs) * time.Millisecond
	admitBy := time.Now().Add(maxWait)
	for range route.Hops {
		if err := d.awaitAdmission(reqCtx, providerID, order, estChars, estTokens, maxWait, admitBy); err != nil {
			telemetry.AddErrorAttribute(span, err)
			return nil, err
		}
	}

	// Invoke hop by hop: pivot routes feed the first hop's output into
	// the second, carrying per-item failures forward.
	current := missTexts
	itemErrs := make([]error, len(missTexts))
	var totalCost float64
	var totalTokens int

	for _, hop := range route.Hops {
		outcome := d.invokeHop(reqCtx, reg, hop, current, itemErrs, req.Parallelism)
		if outcome.chars > 0 || outcome.tokens > 0 {
			hopCost := d.costs.Cost(providerID, outcome.chars, outcome.tokens)
			d.tracker.RecordUsage(providerID, domain.Usage{
				Requests: outcome.okCalls,
				Chars:    outcome.chars,
				Tokens:   outcome.tokens,
				CostUSD:  hopCost,
			})
			metrics.RecordUsage(providerID, outcome.chars, hopCost)
			totalCost += hopCost
			totalTokens += outcome.tokens
		}
		current = outcome.texts
		itemErrs = outcome.errs
	}

	// A cancel that arrived mid-flight is a distinct outcome, not a
	// failure.
	if reqCtx.Err() != nil && ctx.Err() == nil {
		metrics.CancellationsTotal.Inc()
		return nil, domain.ErrCancelled
	}

	// Reassemble into the caller's original order and write successes
	// through to the cache.
	okItems, okChars := 0, 0
	for k, i := range missIdx {
		if itemErrs[k] != nil {
			items[i] = domain.ResultItem{
				Error:      itemErrs[k].Error(),
				ErrorClass: domain.Classify(itemErrs[k]),
			}
			continue
		}
		items[i] = domain.ResultItem{Text: current[k]}
		okItems++
		okChars += len(missTexts[k])
		d.cache.Set(ctx, missTexts[k], src, tgt, providerID, current[k])
	}

	// Duplicates now resolve against the freshly written entries; if the
	// unique copy failed, the duplicate inherits its error.
	for _, i := range dupIdx {
		t := req.Texts[i]
		if translated, ok := d.cache.Get(ctx, t, src, tgt, providerID); ok {
			items[i] = domain.ResultItem{Text: translated, Cached: true}
			hits++
			metrics.CacheHits.Inc()
			continue
		}
		items[i] = items[missIdx[uniquePos[t]]]
	}

	status := "success"
	if okItems == 0 {
		status = "failed"
	} else if okItems < len(missIdx) {
		status = "partial"
	}
	latency := time.Since(start)
	metrics.RecordTranslation(providerID, src, tgt, status, latency.Seconds(), string(route.Kind))
	telemetry.AddBatchAttributes(span, len(req.Texts), hits, okChars)

	d.publishRecord(domain.UsageRecord{
		RequestID:  req.RequestID,
		Provider:   providerID,
		SourceLang: src,
		TargetLang: tgt,
		Chars:      okChars,
		Tokens:     totalTokens,
		CostUSD:    totalCost,
		LatencyMs:  latency.Milliseconds(),
		Status:     status,
		Timestamp:  time.Now().UTC(),
	})

	if d.budget != nil && totalCost > 0 {
		d.budget.Check(providerID)
	}

	slog.Info("translation dispatched",
		"request_id", req.RequestID,
		"provider", providerID,
		"source_lang", src,
		"target_lang", tgt,
		"route", route.Kind,
		"texts", len(req.Texts),
		"cache_hits", hits,
		"status", status,
		"latency_ms", latency.Milliseconds(),
	)

	return &domain.TranslateResult{
		RequestID:  req.RequestID,
		Items:      items,
		Provider:   providerID,
		SourceLang: src,
		TargetLang: tgt,
		Route:      route.Kind,
		CacheHits:  hits,
		LatencyMs:  latency.Milliseconds(),
	}, nil
}

// awaitAdmission blocks inside the bounded admission-wait loop until the
// provider admits the request, the shared deadline passes, or the request
// is cancelled. A zero budget fails fast.
func (d *Dispatcher) awaitAdmission(ctx context.Context, providerID string, order []string, estChars, estTokens int, maxWait time.Duration, deadline time.Time) error {
	for {
		dec := d.tracker.CanAdmit(providerID, estChars, estTokens)
		if dec.Allowed {
			return nil
		}
		metrics.RecordQuotaDenial(providerID, dec.Bucket)

		if maxWait <= 0 || !time.Now().Add(d.admitPoll).Before(deadline) {
			alt, _ := d.tracker.SuggestAlternate(order, estChars, quota.PolicyPriority)
			if alt == providerID {
				alt = ""
			}
			return &domain.QuotaError{
				Provider:  providerID,
				Bucket:    dec.Bucket,
				Reason:    dec.Reason,
				Wait:      dec.Wait,
				Alternate: alt,
			}
		}

		select {
		case <-ctx.Done():
			return domain.ErrCancelled
		case <-time.After(d.admitPoll):
		}
	}
}

type hopOutcome struct {
	texts   []string
	errs    []error
	tokens  int
	chars   int
	okCalls int
}

// invokeHop translates one hop's pending items. Items that already failed
// an earlier hop are carried forward untouched. Local providers run
// strictly sequentially; cloud providers honor the caller's parallelism.
func (d *Dispatcher) invokeHop(ctx context.Context, reg provider.Registration, hop domain.Hop, inputs []string, skip []error, parallelism int) hopOutcome {
	out := hopOutcome{
		texts: make([]string, len(inputs)),
		errs:  make([]error, len(inputs)),
	}

	maxBatch := reg.Capabilities.MaxBatchSize
	if maxBatch < 1 {
		maxBatch = 1
	}

	var chunks [][]int
	var pending []int
	for i := range inputs {
		if skip[i] != nil {
			out.errs[i] = skip[i]
			continue
		}
		pending = append(pending, i)
		if len(pending) == maxBatch {
			chunks = append(chunks, pending)
			pending = nil
		}
	}
	if len(pending) > 0 {
		chunks = append(chunks, pending)
	}

	providerID := reg.Translator.ID()
	var breaker *circuitbreaker.Breaker
	if d.breakers != nil {
		breaker = d.breakers.For(providerID)
	}

	var mu sync.Mutex
	call := func(idxs []int) {
		texts := make([]string, len(idxs))
		chars := 0
		for j, i := range idxs {
			texts[j] = inputs[i]
			chars += len(inputs[i])
		}

		callCtx, cancel := context.WithTimeout(ctx, d.requestTimeout)
		defer cancel()

		res, err := reg.Translator.Translate(callCtx, provider.Request{
			Texts:      texts,
			SourceLang: hop.SourceLang,
			TargetLang: hop.TargetLang,
			Model:      hop.Model,
		})
		if err == nil && len(res.Texts) != len(idxs) {
			err = fmt.Errorf("%s: expected %d texts, got %d: %w",
				providerID, len(idxs), len(res.Texts), domain.ErrModel)
		}
		err = normalizeCallError(err)

		mu.Lock()
		defer mu.Unlock()

		if err != nil {
			for _, i := range idxs {
				out.errs[i] = err
			}
			class := domain.Classify(err)
			if class != domain.ClassCancelled {
				if breaker != nil {
					breaker.RecordFailure()
				}
				d.tracker.RecordFailure(providerID, class)
				metrics.RecordProviderError(providerID, string(class))
			}
			return
		}

		if breaker != nil {
			breaker.RecordSuccess()
		}
		for j, i := range idxs {
			out.texts[i] = res.Texts[j]
		}
		out.chars += chars
		out.tokens += res.Tokens
		out.okCalls++
	}

	if reg.Capabilities.Local {
		for _, chunk := range chunks {
			d.localMu.Lock()
			call(chunk)
			d.localMu.Unlock()
		}
		return out
	}

	if parallelism < 1 {
		parallelism = 1
	}
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup
	for _, chunk := range chunks {
		wg.Add(1)
		sem <- struct{}{}
		go func(idxs []int) {
			defer wg.Done()
			defer func() { <-sem }()
			call(idxs)
		}(chunk)
	}
	wg.Wait()

	return out
}

func normalizeCallError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	default:
		return err
	}
}

// publishRecord ships a usage record to the journal and exporter,
// best-effort and off the request path.
func (d *Dispatcher) publishRecord(rec domain.UsageRecord) {
	if d.journal == nil && d.exporter == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if d.journal != nil {
			if err := d.journal.Record(ctx, rec); err != nil {
				slog.Warn("usage journal write failed", "request_id", rec.RequestID, "error", err)
			}
		}
		if d.exporter != nil {
			if err := d.exporter.Export(ctx, rec); err != nil {
				slog.Warn("usage export failed", "request_id", rec.RequestID, "error", err)
			}
		}
	}()
}

// Cancel fires a request's cancellation handle. The provider call
// observes it at its next suspension point; registry bookkeeping is
// immediate.
func (d *Dispatcher) Cancel(requestID string) bool {
	ok := d.registry.Cancel(requestID)
	if ok {
		metrics.InFlightRequests.Set(float64(d.registry.Len()))
	}
	return ok
}

// CancelOwner cancels every in-flight request owned by a channel.
func (d *Dispatcher) CancelOwner(ownerID string) int {
	n := d.registry.CancelOwner(ownerID)
	if n > 0 {
		metrics.InFlightRequests.Set(float64(d.registry.Len()))
	}
	return n
}

// Stats merges quota, cache, in-flight and provider-reported remaining
// quota state for observability.
func (d *Dispatcher) Stats() domain.Stats {
	cs := d.cache.Stats()
	metrics.CacheSizeBytes.Set(float64(cs.TotalSize))

	d.introMu.Lock()
	var remaining map[string]domain.RemainingQuota
	if len(d.remaining) > 0 {
		remaining = make(map[string]domain.RemainingQuota, len(d.remaining))
		for id, r := range d.remaining {
			remaining[id] = r
		}
	}
	d.introMu.Unlock()

	return domain.Stats{
		Quota:     d.tracker.Stats(),
		Cache:     cs,
		InFlight:  d.registry.Len(),
		Remaining: remaining,
	}
}

// refreshRemaining polls providers that expose quota introspection and
// caches their answers for Stats. Failures keep the previous snapshot.
func (d *Dispatcher) refreshRemaining(ctx context.Context) {
	for id, reg := range d.providers {
		if !reg.Capabilities.SupportsQuotaIntrospection {
			continue
		}
		intro, ok := reg.Translator.(provider.QuotaIntrospector)
		if !ok {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rq, err := intro.RemainingQuota(callCtx)
		cancel()
		if err != nil {
			slog.Debug("quota introspection failed", "provider", id, "error", err)
			continue
		}

		d.introMu.Lock()
		d.remaining[id] = rq
		d.introMu.Unlock()
	}
}

// Subscribe registers a stats consumer and returns its unsubscribe.
func (d *Dispatcher) Subscribe(fn func(domain.Stats)) func() {
	d.subMu.Lock()
	id := d.nextS
	d.nextS++
	d.subs[id] = fn
	d.subMu.Unlock()

	return func() {
		d.subMu.Lock()
		delete(d.subs, id)
		d.subMu.Unlock()
	}
}

// RunStatsBroadcaster periodically pushes merged stats to subscribers
// until the context is cancelled. It is owned by the dispatcher's
// lifecycle, not a free-running interval.
func (d *Dispatcher) RunStatsBroadcaster(ctx context.Context) {
	ticker := time.NewTicker(d.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.refreshRemaining(ctx)
			stats := d.Stats()
			d.subMu.Lock()
			for _, fn := range d.subs {
				fn(stats)
			}
			d.subMu.Unlock()
		}
	}
}
