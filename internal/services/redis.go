package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/code-Quester/SpeakSutra/internal/logger"
)

const (
	enrollmentKeyPrefix = "enrollment:"
	revokedKeyPrefix    = "session:revoked:"
	enrollmentCacheTTL  = 10 * time.Minute
)

// RedisCache provides caching functionality using Redis. A nil *RedisCache is valid and
// behaves as an always-empty cache, so the service runs without Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache client
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	logger.Log.Info("Redis connection established")
	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set stores a value in cache with expiration
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, expiration).Err()
}

// Get retrieves a value from cache. A miss returns redis.Nil.
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c == nil {
		return redis.Nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Exists checks if a key exists in cache
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	if c == nil {
		return false, nil
	}
	n, err := c.client.Exists(ctx, key).Result()
	return n > 0, err
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// CachedEnrollment looks up a cached positive enrollment answer for a customer id.
func (c *RedisCache) CachedEnrollment(ctx context.Context, customerID string) (*EnrollmentStatus, bool) {
	var status EnrollmentStatus
	if err := c.Get(ctx, enrollmentKeyPrefix+customerID, &status); err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Log.WithError(err).Warn("enrollment cache read failed")
		}
		return nil, false
	}
	return &status, true
}

// CacheEnrollment stores a completed enrollment under its customer id. Only positive
// answers are cached: a completed record is terminal, so the entry can never go stale.
func (c *RedisCache) CacheEnrollment(ctx context.Context, customerID string, status *EnrollmentStatus) {
	if status == nil || !status.Enrolled {
		return
	}
	if err := c.Set(ctx, enrollmentKeyPrefix+customerID, status, enrollmentCacheTTL); err != nil {
		logger.Log.WithError(err).Warn("enrollment cache write failed")
	}
}

// RevokeSession marks a session token id as logged out until it would have expired anyway.
func (c *RedisCache) RevokeSession(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.Set(ctx, revokedKeyPrefix+jti, true, ttl)
}

// IsSessionRevoked reports whether RevokeSession was called for jti. Cache errors are
// treated as not revoked.
func (c *RedisCache) IsSessionRevoked(ctx context.Context, jti string) bool {
	ok, err := c.Exists(ctx, revokedKeyPrefix+jti)
	if err != nil {
		logger.Log.WithError(err).Warn("session revocation lookup failed")
		return false
	}
	return ok
}
