package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemory_PutGetDelete(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	e := Entry{
		Key:         "k1",
		Text:        "hello",
		Translation: "bonjour",
		Size:        76,
		CreatedAt:   time.Now(),
		LastUsed:    time.Now(),
	}
	if err := s.Put(ctx, e); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Translation != "bonjour" {
		t.Errorf("unexpected entry: %+v", got)
	}

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_TouchMovesRecency(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	base := time.Now()

	for i, key := range []string{"a", "b", "c"} {
		e := Entry{Key: key, Size: 10, LastUsed: base.Add(time.Duration(i) * time.Second)}
		if err := s.Put(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	// Touching "a" makes it the most recent.
	if err := s.Touch(ctx, "a", base.Add(time.Minute)); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	entries, err := s.ScanByRecency(ctx, 0)
	if err != nil {
		t.Fatalf("ScanByRecency failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// Oldest first.
	if entries[0].Key != "b" || entries[2].Key != "a" {
		t.Errorf("unexpected recency order: %s, %s, %s",
			entries[0].Key, entries[1].Key, entries[2].Key)
	}
}

func TestMemory_ScanLimit(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for i, key := range []string{"a", "b", "c", "d"} {
		e := Entry{Key: key, Size: 10, LastUsed: time.Now().Add(time.Duration(i) * time.Second)}
		if err := s.Put(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.ScanByRecency(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Key != "a" {
		t.Errorf("expected the 2 oldest entries, got %+v", entries)
	}
}

func TestMemory_Clear(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Put(ctx, Entry{Key: "k", Size: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected empty store after Clear, got %v", err)
	}
}
