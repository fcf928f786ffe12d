package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/llm-router/internal/policy"
)

const (
	// redisKeyPrefix namespaces cache entries in a shared Redis.
	redisKeyPrefix = "cache:"

	// queryTimeout bounds every Redis operation so a slow cache cannot
	// stall the request path.
	queryTimeout = 500 * time.Millisecond
)

// RedisStore is a Redis-backed store for multi-replica deployments. Entries
// carry the same JSON shape as FileStore and are validated against the TTL
// at read time; the native Redis expiry only reclaims abandoned keys.
//
// The client is shared and long-lived; the store itself is constructed per
// request from the current cache settings.
type RedisStore struct {
	client *redis.Client
	cfg    policy.CacheConfig
}

// NewRedisStore wraps a Redis client with the given settings. The caller
// owns the client lifecycle.
func NewRedisStore(client *redis.Client, cfg policy.CacheConfig) *RedisStore {
	return &RedisStore{client: client, cfg: cfg}
}

// RedisFactory returns a Factory producing stores that share client.
func RedisFactory(client *redis.Client) Factory {
	return func(cfg policy.CacheConfig) Store { return NewRedisStore(client, cfg) }
}

// Get retrieves and validates the entry for key. Returns (nil, false) on a
// miss, an expired entry, or any Redis error. Errors are logged at WARN and
// not propagated.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	if !s.cfg.Enabled {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "cache_get_error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}

	if time.Now().Unix()-entry.CachedAt > int64(s.cfg.TTLSeconds) {
		_ = s.client.Del(ctx, redisKeyPrefix+key).Err()
		return nil, false
	}

	return entry.ResponseBody, true
}

// Set stores the entry for key with the configured TTL as a reclaim
// backstop. Returns nil even on Redis error so the cache never fails a
// request.
func (s *RedisStore) Set(ctx context.Context, key, model string, responseBody []byte) error {
	if !s.cfg.Enabled {
		return nil
	}

	entry := Entry{
		CachedAt:     time.Now().Unix(),
		Model:        model,
		ResponseBody: responseBody,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ttl := time.Duration(s.cfg.TTLSeconds) * time.Second
	if err := s.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		slog.WarnContext(ctx, "cache_set_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	return nil
}
