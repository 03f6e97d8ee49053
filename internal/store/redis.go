// ABOUTME: Redis-backed QuotaStore using INCR with a day-scoped expiry
// ABOUTME: Lets several gateway processes share send counters without a shared SQL database

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// quotaTTL keeps a counter alive past its calendar day in any time zone.
const quotaTTL = 48 * time.Hour

// RedisQuotaStore implements QuotaStore on Redis
type RedisQuotaStore struct {
	client *redis.Client
}

// NewRedisQuotaStore connects to redisURL and verifies the connection.
func NewRedisQuotaStore(ctx context.Context, redisURL string) (*RedisQuotaStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisQuotaStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisQuotaStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisQuotaStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// quotaKey returns the key for one (tenant, recipient, day) counter.
func quotaKey(tenantID, recipient, day string) string {
	return fmt.Sprintf("quota:%s:%s:%s", scope(tenantID), day, recipient)
}

// GetQuotaCount returns zero for a missing counter.
func (s *RedisQuotaStore) GetQuotaCount(ctx context.Context, tenantID, recipient, day string) (int, error) {
	n, err := s.client.Get(ctx, quotaKey(tenantID, recipient, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading quota counter: %w", err)
	}
	return n, nil
}

// IncrementQuota runs INCR and EXPIRE in one MULTI/EXEC.
func (s *RedisQuotaStore) IncrementQuota(ctx context.Context, tenantID, recipient, day string) (int, error) {
	key := quotaKey(tenantID, recipient, day)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, quotaTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incrementing quota counter: %w", err)
	}
	return int(incr.Val()), nil
}

// Compile-time interface check
var _ QuotaStore = (*RedisQuotaStore)(nil)
