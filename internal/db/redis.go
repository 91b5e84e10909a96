package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const documentKeyPrefix = "vast:doc:"

// RedisStore wraps a redis client and caches fetched VAST documents.
type RedisStore struct {
	Client *redis.Client
	Ctx    context.Context
	// DocumentTTL bounds how long a cached document is served.
	DocumentTTL time.Duration
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string, documentTTL time.Duration) (*RedisStore, error) {
	rs := &RedisStore{
		Client:      redis.NewClient(&redis.Options{Addr: addr}),
		Ctx:         context.Background(),
		DocumentTTL: documentTTL,
	}

	// Add OpenTelemetry instrumentation to Redis client
	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(rs.Ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// documentKey hashes the URL so arbitrarily long ad tags map to fixed-size keys.
func documentKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return documentKeyPrefix + hex.EncodeToString(sum[:])
}

// GetDocument returns the cached document for rawURL. A miss reports false
// with a nil error.
func (r *RedisStore) GetDocument(ctx context.Context, rawURL string) ([]byte, bool, error) {
	data, err := r.Client.Get(ctx, documentKey(rawURL)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// PutDocument stores data for rawURL with the store's TTL. A zero TTL
// disables caching.
func (r *RedisStore) PutDocument(ctx context.Context, rawURL string, data []byte) error {
	if r.DocumentTTL <= 0 {
		return nil
	}
	return r.Client.Set(ctx, documentKey(rawURL), data, r.DocumentTTL).Err()
}

// InvalidateDocument drops the cached copy of rawURL.
func (r *RedisStore) InvalidateDocument(ctx context.Context, rawURL string) error {
	return r.Client.Del(ctx, documentKey(rawURL)).Err()
}

// Ping reports whether Redis is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
