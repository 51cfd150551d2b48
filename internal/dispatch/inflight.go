package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// inFlightRequest is one accepted request's registry entry.
type inFlightRequest struct {
	id        string
	ownerID   string
	cancel    context.CancelFunc
	startedAt time.Time
}

// Registry tracks requests between acceptance and their terminal state.
// It is touched from both the request path and the cancel/disconnect
// path, so every operation is atomic under one mutex.
type Registry struct {
	mu       sync.Mutex
	requests map[string]*inFlightRequest
}

func NewRegistry() *Registry {
	return &Registry{requests: make(map[string]*inFlightRequest)}
}

// Register adds a request. Request ids are unique; re-registering a live
// id is a caller bug.
func (r *Registry) Register(id, ownerID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[id]; exists {
		return fmt.Errorf("request %s already in flight", id)
	}
	r.requests[id] = &inFlightRequest{
		id:        id,
		ownerID:   ownerID,
		cancel:    cancel,
		startedAt: time.Now(),
	}
	return nil
}

// Remove drops a request on any terminal outcome. It reports whether the
// entry was still present, so terminal branches remove exactly once.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[id]; !ok {
		return false
	}
	delete(r.requests, id)
	return true
}

// Cancel fires a request's cancellation handle and removes it.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	req, ok := r.requests[id]
	if ok {
		delete(r.requests, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	req.cancel()
	return true
}

// CancelOwner cancels every request owned by the given channel, typically
// on disconnect. Returns how many were cancelled.
func (r *Registry) CancelOwner(ownerID string) int {
	r.mu.Lock()
	var victims []*inFlightRequest
	for id, req := range r.requests {
		if req.ownerID == ownerID {
			victims = append(victims, req)
			delete(r.requests, id)
		}
	}
	r.mu.Unlock()

	for _, req := range victims {
		req.cancel()
	}
	return len(victims)
}

// Len returns the number of requests currently in flight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}
