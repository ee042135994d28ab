package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/aromachat/authsync/cache"
)

// QueryCache implements the cache.QueryCache interface using Redis. Each
// entry lives in its own hash so staleness can be flipped without rewriting
// the payload.
type QueryCache struct {
	client *redis.Client
	prefix string // Optional prefix for keys
}

// NewQueryCache creates a new [QueryCache] instance.
func NewQueryCache(client *redis.Client, prefix string) *QueryCache {
	return &QueryCache{
		client: client,
		prefix: prefix,
	}
}

// redisKey returns the Redis key for a given cache key
func (r *QueryCache) redisKey(key string) string {
	return fmt.Sprintf("%s:query:%s", r.prefix, key)
}

// Set stores a value under key with the given TTL.
func (r *QueryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	rkey := r.redisKey(key)
	now := time.Now()

	entry := map[string]interface{}{
		"key":        key,
		"value":      string(value),
		"stale":      0,
		"stored_at":  now.Unix(),
		"expires_at": now.Add(ttl).Unix(),
	}

	if _, err := r.client.HSet(ctx, rkey, entry).Result(); err != nil {
		return fmt.Errorf("failed to set entry in Redis: %w", err)
	}

	if _, err := r.client.Expire(ctx, rkey, ttl).Result(); err != nil {
		return fmt.Errorf("failed to set expiry for entry in Redis: %w", err)
	}

	return nil
}

// Get retrieves an entry from Redis.
func (r *QueryCache) Get(ctx context.Context, key string) (*cache.Entry, error) {
	rkey := r.redisKey(key)

	res, err := r.client.HGetAll(ctx, rkey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get entry from Redis: %w", err)
	}

	if len(res) == 0 {
		return nil, cache.ErrNotFound
	}

	storedAtUnix, err := strconv.ParseInt(res["stored_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored_at: %w", err)
	}

	expiresAtUnix, err := strconv.ParseInt(res["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expires_at: %w", err)
	}

	return &cache.Entry{
		Key:       res["key"],
		Value:     []byte(res["value"]),
		Stale:     res["stale"] == "1",
		StoredAt:  time.Unix(storedAtUnix, 0),
		ExpiresAt: time.Unix(expiresAtUnix, 0),
	}, nil
}

// Invalidate flags every entry whose key starts with prefix as stale.
func (r *QueryCache) Invalidate(ctx context.Context, prefix string) (int, error) {
	var marked int
	err := r.scan(ctx, prefix, func(keys []string) error {
		for _, rkey := range keys {
			if _, err := r.client.HSet(ctx, rkey, "stale", 1).Result(); err != nil {
				if err == redis.Nil {
					continue // Key expired in the meantime
				}
				return fmt.Errorf("failed to mark %s stale: %w", rkey, err)
			}
			marked++
		}
		return nil
	})
	return marked, err
}

// Remove deletes every entry whose key starts with prefix.
func (r *QueryCache) Remove(ctx context.Context, prefix string) (int, error) {
	var deleted int
	err := r.scan(ctx, prefix, func(keys []string) error {
		n, err := r.client.Del(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
		deleted += int(n)
		return nil
	})
	return deleted, err
}

// Len returns the number of entries under this cache's prefix.
func (r *QueryCache) Len(ctx context.Context) int {
	var count int
	if err := r.scan(ctx, "", func(keys []string) error {
		count += len(keys)
		return nil
	}); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to count cache entries")
		return 0
	}
	return count
}

// Close is a no-op; the Redis client is owned by the caller.
func (r *QueryCache) Close() error { return nil }

// scan walks all Redis keys matching keyPrefix in batches of 100 and hands
// each batch to fn.
func (r *QueryCache) scan(ctx context.Context, keyPrefix string, fn func(keys []string) error) error {
	pattern := r.redisKey(keyPrefix) + "*"
	var cursor uint64

	for {
		var keys []string
		var err error
		keys, cursor, err = r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}

		if cursor == 0 {
			return nil
		}
	}
}
