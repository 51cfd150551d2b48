package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisEntryPrefix = "lingo:cache:"
	redisRecencyKey  = "lingo:cache:recency"
)

// Redis is the distributed Store. Entries live in plain keys; a sorted set
// scored by last-used time keeps the recency ordering eviction scans need.
type Redis struct {
	client *redis.Client
}

func NewRedis(redisURL string) (*Redis, error) {
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

	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing client, for tests.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (Entry, error) {
	data, err := r.client.Get(ctx, redisEntryPrefix+key).Bytes()
	if err == redis.Nil {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("redis get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	return e, nil
}

func (r *Redis) Put(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisEntryPrefix+e.Key, data, 0)
	pipe.ZAdd(ctx, redisRecencyKey, redis.Z{
		Score:  float64(e.LastUsed.UnixNano()),
		Member: e.Key,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, redisEntryPrefix+key)
	pipe.ZRem(ctx, redisRecencyKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func (r *Redis) Touch(ctx context.Context, key string, at time.Time) error {
	err := r.client.ZAdd(ctx, redisRecencyKey, redis.Z{
		Score:  float64(at.UnixNano()),
		Member: key,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis touch: %w", err)
	}
	return nil
}

func (r *Redis) ScanByRecency(ctx context.Context, limit int) ([]Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	keys, err := r.client.ZRange(ctx, redisRecencyKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		e, err := r.Get(ctx, key)
		if err == ErrNotFound {
			// Stale recency member; drop it and move on.
			r.client.ZRem(ctx, redisRecencyKey, key)
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *Redis) Clear(ctx context.Context) error {
	keys, err := r.client.ZRange(ctx, redisRecencyKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}

	pipe := r.client.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, redisEntryPrefix+key)
	}
	pipe.Del(ctx, redisRecencyKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis clear: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
