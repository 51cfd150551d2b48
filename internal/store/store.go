// Package store is the key-value persistence capability behind the
// translation cache. It is strictly best-effort: losing the backing store
// only costs future cache hits, never correctness.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("store: key not found")

// Entry is one persisted cache record. LastUsed orders eviction scans.
type Entry struct {
	Key         string    `json:"key"`
	Text        string    `json:"text"`
	Translation string    `json:"translation"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsed    time.Time `json:"last_used"`
}

// Store is a recency-aware key-value store. Implementations must order
// ScanByRecency oldest-first so eviction can walk it directly.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error

	// Touch refreshes a key's recency marker without rewriting the entry.
	Touch(ctx context.Context, key string, at time.Time) error

	// ScanByRecency streams up to limit entries ordered oldest-first.
	// limit <= 0 means no limit.
	ScanByRecency(ctx context.Context, limit int) ([]Entry, error)

	Clear(ctx context.Context) error
}
