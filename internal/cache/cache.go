// Package cache is the byte-bounded, LRU-evicted store of prior
// translation results. Caching is strictly an optimization: persistence
// failures are absorbed and only cost future hits.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/lmoretti/lingo-gateway/internal/domain"
	"github.com/lmoretti/lingo-gateway/internal/metrics"
	"github.com/lmoretti/lingo-gateway/internal/store"
)

// entryOverhead is the fixed per-entry bookkeeping cost added to the
// text and translation lengths when computing entry size.
const entryOverhead = 64

// defaultHysteresis is the fraction of max size eviction shrinks to,
// leaving headroom so one insert does not trigger the next eviction.
const defaultHysteresis = 0.8

type entry struct {
	key         string
	text        string
	translation string
	size        int64
	createdAt   time.Time
	lastUsed    time.Time
}

// Cache is the in-process LRU index, optionally write-through persisted
// via a store.Store.
type Cache struct {
	mu         sync.Mutex
	maxSize    int64
	hysteresis float64
	ttl        time.Duration

	entries map[string]*list.Element
	order   *list.List // front = most recent, back = oldest
	total   int64

	hits      int64
	misses    int64
	evictions int64

	persist store.Store
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore enables write-through persistence.
func WithStore(s store.Store) Option {
	return func(c *Cache) { c.persist = s }
}

// WithTTL expires entries after the given age. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(maxSize int64, opts ...Option) *Cache {
	c := &Cache{
		maxSize:    maxSize,
		hysteresis: defaultHysteresis,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the deterministic cache key. The source language must
// already be resolved: caching under the "auto" sentinel is meaningless.
func Key(text, sourceLang, targetLang, providerID string) string {
	h := xxhash.New()
	h.WriteString(sourceLang)
	h.WriteString("\x1f")
	h.WriteString(targetLang)
	h.WriteString("\x1f")
	h.WriteString(providerID)
	h.WriteString("\x1f")
	h.WriteString(text)
	return strconv.FormatUint(h.Sum64(), 16)
}

// Get returns the cached translation and refreshes its recency on hit.
func (c *Cache) Get(ctx context.Context, text, sourceLang, targetLang, providerID string) (string, bool) {
	key := Key(text, sourceLang, targetLang, providerID)

	c.mu.Lock()
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		return "", false
	}

	e := el.Value.(*entry)
	now := c.now()

	if c.ttl > 0 && now.Sub(e.createdAt) > c.ttl {
		c.removeLocked(el)
		c.misses++
		c.mu.Unlock()
		c.deleteFromStore(ctx, key)
		return "", false
	}

	e.lastUsed = now
	c.order.MoveToFront(el)
	c.hits++
	translation := e.translation
	c.mu.Unlock()

	if c.persist != nil {
		if err := c.persist.Touch(ctx, key, now); err != nil {
			slog.Debug("cache touch failed", "key", key, "error", err)
		}
	}

	return translation, true
}

// Set stores a translation, evicting oldest-by-recency entries first when
// the insert would exceed the byte budget. Eviction shrinks to the
// hysteresis threshold, or further when the incoming entry needs the room.
// Entries larger than the budget itself are not cached.
func (c *Cache) Set(ctx context.Context, text, sourceLang, targetLang, providerID, translation string) {
	size := int64(len(text)+len(translation)) + entryOverhead
	if size > c.maxSize {
		return
	}

	key := Key(text, sourceLang, targetLang, providerID)
	now := c.now()

	c.mu.Lock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		c.total += size - e.size
		e.translation = translation
		e.size = size
		e.createdAt = now
		e.lastUsed = now
		c.order.MoveToFront(el)
		if c.total > c.maxSize {
			// The refreshed entry itself is exempt; it fits the budget
			// alone, so evicting everything else restores the invariant.
			c.evictLocked(ctx, c.evictTarget(0), el)
		}
	} else {
		if c.total+size > c.maxSize {
			c.evictLocked(ctx, c.evictTarget(size), nil)
		}
		e := &entry{
			key:         key,
			text:        text,
			translation: translation,
			size:        size,
			createdAt:   now,
			lastUsed:    now,
		}
		c.entries[key] = c.order.PushFront(e)
		c.total += size
	}
	c.mu.Unlock()

	if c.persist != nil {
		if err := c.persist.Put(ctx, store.Entry{
			Key:         key,
			Text:        text,
			Translation: translation,
			Size:        size,
			CreatedAt:   now,
			LastUsed:    now,
		}); err != nil {
			slog.Debug("cache write-through failed", "key", key, "error", err)
		}
	}
}

// Clear drops every entry, including persisted ones.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
	c.total = 0
	c.mu.Unlock()

	if c.persist != nil {
		if err := c.persist.Clear(ctx); err != nil {
			slog.Debug("cache store clear failed", "error", err)
		}
	}
}

// Stats returns the cache's observable state.
func (c *Cache) Stats() domain.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hitRate float64
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return domain.CacheStats{
		Entries:   len(c.entries),
		TotalSize: c.total,
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		HitRate:   hitRate,
	}
}

// Load restores persisted entries most-recent-first until the byte budget
// is reached. A failed load starts empty; it is never an error.
func (c *Cache) Load(ctx context.Context) error {
	if c.persist == nil {
		return nil
	}

	persisted, err := c.persist.ScanByRecency(ctx, 0)
	if err != nil {
		return fmt.Errorf("load cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Scan order is oldest-first; walk backwards so the most recent
	// entries win the budget.
	for i := len(persisted) - 1; i >= 0; i-- {
		pe := persisted[i]
		if pe.Size <= 0 || c.total+pe.Size > c.maxSize {
			continue
		}
		if _, ok := c.entries[pe.Key]; ok {
			continue
		}
		e := &entry{
			key:         pe.Key,
			text:        pe.Text,
			translation: pe.Translation,
			size:        pe.Size,
			createdAt:   pe.CreatedAt,
			lastUsed:    pe.LastUsed,
		}
		c.entries[pe.Key] = c.order.PushBack(e)
		c.total += pe.Size
	}

	return nil
}

// evictTarget is the size eviction must reach before an insert of the
// given size: the hysteresis threshold, lowered further when the incoming
// entry needs more headroom than the threshold leaves.
func (c *Cache) evictTarget(incoming int64) int64 {
	target := int64(float64(c.maxSize) * c.hysteresis)
	if room := c.maxSize - incoming; room < target {
		target = room
	}
	return target
}

// evictLocked removes oldest-by-recency entries until total size is at or
// below target. keep, when non-nil, is never evicted. Caller holds the
// mutex.
func (c *Cache) evictLocked(ctx context.Context, target int64, keep *list.Element) {
	for c.total > target {
		el := c.order.Back()
		if el == nil || el == keep {
			return
		}
		key := el.Value.(*entry).key
		c.removeLocked(el)
		c.evictions++
		metrics.CacheEvictions.Inc()
		c.deleteFromStore(ctx, key)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.entries, e.key)
	c.total -= e.size
}

func (c *Cache) deleteFromStore(ctx context.Context, key string) {
	if c.persist == nil {
		return
	}
	if err := c.persist.Delete(ctx, key); err != nil {
		slog.Debug("cache store delete failed", "key", key, "error", err)
	}
}
