package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lmoretti/lingo-gateway/internal/metrics"
	"github.com/lmoretti/lingo-gateway/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetAndGet(t *testing.T) {
	c := New(1 << 20)
	ctx := context.Background()

	c.Set(ctx, "hello", "en", "fr", "deepl", "bonjour")

	got, ok := c.Get(ctx, "hello", "en", "fr", "deepl")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != "bonjour" {
		t.Errorf("expected bonjour, got %q", got)
	}
}

func TestMissOnDifferentDimensions(t *testing.T) {
	c := New(1 << 20)
	ctx := context.Background()

	c.Set(ctx, "hello", "en", "fr", "deepl", "bonjour")

	cases := []struct{ text, src, tgt, provider string }{
		{"hello", "en", "de", "deepl"},
		{"hello", "de", "fr", "deepl"},
		{"hello", "en", "fr", "openai"},
		{"hallo", "en", "fr", "deepl"},
	}
	for _, tc := range cases {
		if _, ok := c.Get(ctx, tc.text, tc.src, tc.tgt, tc.provider); ok {
			t.Errorf("expected miss for %+v", tc)
		}
	}
}

func TestEvictionOldestFirstWithHysteresis(t *testing.T) {
	// Each entry: 2 + 2 + 64 = 68 bytes. Budget fits 5 entries (340 < 400).
	c := New(400)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Set(ctx, fmt.Sprintf("t%d", i), "en", "fr", "p", fmt.Sprintf("r%d", i))
	}

	// Touch t0 so it is the most recent; t1 becomes the oldest.
	if _, ok := c.Get(ctx, "t0", "en", "fr", "p"); !ok {
		t.Fatal("t0 should be cached")
	}

	// Sixth insert exceeds the budget and must evict down to 320 bytes
	// (80% of 400) before inserting: strictly the oldest entry, t1, goes.
	c.Set(ctx, "t5", "en", "fr", "p", "r5")

	if _, ok := c.Get(ctx, "t1", "en", "fr", "p"); ok {
		t.Error("t1 should have been evicted")
	}
	for _, text := range []string{"t0", "t2", "t3", "t4", "t5"} {
		if _, ok := c.Get(ctx, text, "en", "fr", "p"); !ok {
			t.Errorf("%s should have survived eviction", text)
		}
	}

	if s := c.Stats(); s.TotalSize > s.MaxSize {
		t.Errorf("size %d exceeds max %d", s.TotalSize, s.MaxSize)
	}
}

func TestSizeNeverExceedsMax(t *testing.T) {
	c := New(500)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		c.Set(ctx, fmt.Sprintf("text-%03d", i), "en", "fr", "p", "translation")
		if s := c.Stats(); s.TotalSize > s.MaxSize {
			t.Fatalf("after insert %d: size %d exceeds max %d", i, s.TotalSize, s.MaxSize)
		}
	}
}

func TestLargeEntryInsertKeepsInvariant(t *testing.T) {
	c := New(1000)
	ctx := context.Background()

	// Fill close to the budget with small entries: 13 * 68 = 884 bytes.
	for i := 0; i < 13; i++ {
		c.Set(ctx, fmt.Sprintf("s%d", i), "en", "fr", "p", fmt.Sprintf("r%d", i))
	}

	// A 500-byte entry needs more headroom than the hysteresis threshold
	// leaves (1000 - 800 = 200), so eviction must go deeper.
	big := strings.Repeat("x", 218)
	c.Set(ctx, big, "en", "fr", "p", strings.Repeat("y", 218))

	s := c.Stats()
	if s.TotalSize > s.MaxSize {
		t.Fatalf("total size %d exceeds max %d after large insert", s.TotalSize, s.MaxSize)
	}
	if _, ok := c.Get(ctx, big, "en", "fr", "p"); !ok {
		t.Error("large entry must be cached once eviction made room")
	}
}

func TestOversizeUpdateCannotEvictItself(t *testing.T) {
	c := New(170)
	ctx := context.Background()

	c.Set(ctx, "a", "en", "fr", "p", "1")
	c.Set(ctx, "b", "en", "fr", "p", "2")

	// Growing "a" to 165 bytes exceeds the budget; eviction may remove
	// "b" but never the entry being refreshed.
	grown := strings.Repeat("z", 100)
	c.Set(ctx, "a", "en", "fr", "p", grown)

	if got, ok := c.Get(ctx, "a", "en", "fr", "p"); !ok || got != grown {
		t.Errorf("refreshed entry must survive its own eviction pass, got %q ok=%v", got, ok)
	}
	if s := c.Stats(); s.TotalSize > s.MaxSize {
		t.Errorf("total size %d exceeds max %d after oversize update", s.TotalSize, s.MaxSize)
	}
}

func TestEvictionIncrementsMetric(t *testing.T) {
	before := testutil.ToFloat64(metrics.CacheEvictions)

	// Three 68-byte entries fit a 210-byte budget; the fourth evicts
	// exactly one.
	c := New(210)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		c.Set(ctx, fmt.Sprintf("t%d", i), "en", "fr", "p", fmt.Sprintf("r%d", i))
	}

	if got := testutil.ToFloat64(metrics.CacheEvictions) - before; got != 1 {
		t.Errorf("expected 1 eviction recorded, got %v", got)
	}
}

func TestOversizeEntryNotCached(t *testing.T) {
	c := New(100)
	ctx := context.Background()

	big := make([]byte, 200)
	c.Set(ctx, string(big), "en", "fr", "p", "x")

	if s := c.Stats(); s.Entries != 0 {
		t.Errorf("oversize entry should not be cached, have %d entries", s.Entries)
	}
}

func TestTTLExpiry(t *testing.T) {
	now := time.Now()
	c := New(1<<20, WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	c.Set(ctx, "hello", "en", "fr", "p", "bonjour")

	now = now.Add(30 * time.Second)
	if _, ok := c.Get(ctx, "hello", "en", "fr", "p"); !ok {
		t.Fatal("entry should still be live")
	}

	now = now.Add(45 * time.Second)
	if _, ok := c.Get(ctx, "hello", "en", "fr", "p"); ok {
		t.Fatal("entry should have expired")
	}

	if s := c.Stats(); s.Entries != 0 {
		t.Errorf("expired entry should be removed, have %d entries", s.Entries)
	}
}

func TestStats(t *testing.T) {
	c := New(1 << 20)
	ctx := context.Background()

	c.Set(ctx, "a", "en", "fr", "p", "A")
	c.Get(ctx, "a", "en", "fr", "p")
	c.Get(ctx, "a", "en", "fr", "p")
	c.Get(ctx, "b", "en", "fr", "p")

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("expected 2 hits 1 miss, got %d/%d", s.Hits, s.Misses)
	}
	if want := 2.0 / 3.0; s.HitRate < want-0.001 || s.HitRate > want+0.001 {
		t.Errorf("expected hit rate %.3f, got %.3f", want, s.HitRate)
	}
}

func TestClear(t *testing.T) {
	c := New(1 << 20)
	ctx := context.Background()

	c.Set(ctx, "a", "en", "fr", "p", "A")
	c.Clear(ctx)

	if _, ok := c.Get(ctx, "a", "en", "fr", "p"); ok {
		t.Error("expected miss after clear")
	}
	if s := c.Stats(); s.TotalSize != 0 || s.Entries != 0 {
		t.Errorf("expected empty cache, got %+v", s)
	}
}

type failingStore struct{ store.Store }

func (failingStore) Put(ctx context.Context, e store.Entry) error {
	return errors.New("disk on fire")
}
func (failingStore) Touch(ctx context.Context, key string, at time.Time) error {
	return errors.New("disk on fire")
}

func TestStoreFailuresAbsorbed(t *testing.T) {
	c := New(1<<20, WithStore(failingStore{store.NewMemory()}))
	ctx := context.Background()

	c.Set(ctx, "a", "en", "fr", "p", "A")

	if got, ok := c.Get(ctx, "a", "en", "fr", "p"); !ok || got != "A" {
		t.Errorf("persistence failure must not affect the caller, got %q ok=%v", got, ok)
	}
}

func TestLoadRestoresMostRecentWithinBudget(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		s.Put(ctx, store.Entry{
			Key:         Key(fmt.Sprintf("t%d", i), "en", "fr", "p"),
			Text:        fmt.Sprintf("t%d", i),
			Translation: fmt.Sprintf("r%d", i),
			Size:        68,
			CreatedAt:   base,
			LastUsed:    base.Add(time.Duration(i) * time.Minute),
		})
	}

	// Budget fits only three entries; the three most recent must win.
	c := New(220, WithStore(s))
	if err := c.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	for _, text := range []string{"t2", "t3", "t4"} {
		if _, ok := c.Get(ctx, text, "en", "fr", "p"); !ok {
			t.Errorf("%s should have been restored", text)
		}
	}
	if _, ok := c.Get(ctx, "t0", "en", "fr", "p"); ok {
		t.Error("t0 should not fit the restore budget")
	}
}
