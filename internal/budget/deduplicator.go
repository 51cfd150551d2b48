package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlertDeduplicator suppresses repeat alerts for the same provider and
// level, across instances when backed by Redis.
type AlertDeduplicator interface {
	// ShouldAlert reports whether this alert is new and should be sent.
	ShouldAlert(ctx context.Context, providerID string, level AlertLevel) bool

	// ClearAlert drops alert state once usage falls back below the
	// warning threshold.
	ClearAlert(ctx context.Context, providerID string)
}

// InMemoryDeduplicator keeps alert state in process. Suitable for
// single-instance deployments.
type InMemoryDeduplicator struct {
	mu         sync.Mutex
	lastAlerts map[string]AlertLevel
}

func NewInMemoryDeduplicator() *InMemoryDeduplicator {
	return &InMemoryDeduplicator{
		lastAlerts: make(map[string]AlertLevel),
	}
}

func (d *InMemoryDeduplicator) ShouldAlert(ctx context.Context, providerID string, level AlertLevel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastAlerts[providerID]; ok && last == level {
		return false
	}
	d.lastAlerts[providerID] = level
	return true
}

func (d *InMemoryDeduplicator) ClearAlert(ctx context.Context, providerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastAlerts, providerID)
}

// RedisDeduplicator shares alert state between gateway instances so a
// threshold crossing is announced once, not once per instance.
type RedisDeduplicator struct {
	client  *redis.Client
	lockTTL time.Duration
}

func NewRedisDeduplicator(redisURL string, lockTTL time.Duration) (*RedisDeduplicator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisDeduplicator{client: client, lockTTL: lockTTL}, nil
}

func NewRedisDeduplicatorWithClient(client *redis.Client, lockTTL time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, lockTTL: lockTTL}
}

func (d *RedisDeduplicator) alertKey(providerID string, level AlertLevel) string {
	return fmt.Sprintf("lingo:budget:alert:%s:%s", providerID, level)
}

// ShouldAlert uses SETNX so exactly one instance wins the send. Redis
// errors fail open: a duplicate alert beats a silent budget overrun.
func (d *RedisDeduplicator) ShouldAlert(ctx context.Context, providerID string, level AlertLevel) bool {
	key := d.alertKey(providerID, level)

	acquired, err := d.client.SetNX(ctx, key, time.Now().Unix(), d.lockTTL).Result()
	if err != nil {
		return true
	}
	return acquired
}

func (d *RedisDeduplicator) ClearAlert(ctx context.Context, providerID string) {
	pattern := fmt.Sprintf("lingo:budget:alert:%s:*", providerID)
	keys, err := d.client.Keys(ctx, pattern).Result()
	if err != nil || len(keys) == 0 {
		return
	}
	d.client.Del(ctx, keys...)
}

func (d *RedisDeduplicator) Close() error {
	return d.client.Close()
}
