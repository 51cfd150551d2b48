package dispatch

import (
	"context"
	"testing"
)

func TestRegistry_RegisterAndRemove(t *testing.T) {
	r := NewRegistry()

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Register("req-1", "ws-1", cancel); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 in flight, got %d", r.Len())
	}

	if !r.Remove("req-1") {
		t.Error("first remove must report presence")
	}
	if r.Remove("req-1") {
		t.Error("second remove must report absence")
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistry_DuplicateID(t *testing.T) {
	r := NewRegistry()

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Register("req-1", "ws-1", cancel); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register("req-1", "ws-2", cancel); err == nil {
		t.Error("expected error re-registering a live id")
	}
}

func TestRegistry_CancelFiresHandle(t *testing.T) {
	r := NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Register("req-1", "ws-1", cancel); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !r.Cancel("req-1") {
		t.Fatal("expected cancel to find the request")
	}
	if ctx.Err() == nil {
		t.Error("cancellation handle was not fired")
	}
	if r.Cancel("req-1") {
		t.Error("cancelling an unknown id must report false")
	}
}

func TestRegistry_CancelOwner(t *testing.T) {
	r := NewRegistry()

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	ctx3, cancel3 := context.WithCancel(context.Background())

	if err := r.Register("req-1", "ws-1", cancel1); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("req-2", "ws-1", cancel2); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("req-3", "ws-2", cancel3); err != nil {
		t.Fatal(err)
	}

	if n := r.CancelOwner("ws-1"); n != 2 {
		t.Fatalf("expected 2 cancelled, got %d", n)
	}
	if ctx1.Err() == nil || ctx2.Err() == nil {
		t.Error("ws-1 requests were not cancelled")
	}
	if ctx3.Err() != nil {
		t.Error("ws-2 request must survive")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 survivor, got %d", r.Len())
	}
}
