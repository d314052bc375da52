package eligibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares eligibility answers between flowd instances.
type RedisCache struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisCache connects to addr. Entries expire retention after they are stored.
func NewRedisCache(addr, password string, db int, retention time.Duration) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: client, prefix: "flowd:eligibility:", retention: retention}
}

// Ping checks the connection.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Get implements Cache.
func (r *RedisCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return entry, true, nil
}

// Set implements Cache.
func (r *RedisCache) Set(ctx context.Context, key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.retention).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}
	return nil
}

// Close implements Cache.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
