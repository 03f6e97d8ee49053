// ABOUTME: Integration tests for the PostgreSQL and Redis backends
// ABOUTME: Skipped unless WA_GATEWAY_TEST_POSTGRES or WA_GATEWAY_TEST_REDIS point at a live server

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Suite(t *testing.T) {
	url := os.Getenv("WA_GATEWAY_TEST_POSTGRES")
	if url == "" {
		t.Skip("WA_GATEWAY_TEST_POSTGRES not set")
	}

	runStoreSuite(t, func(t *testing.T) Store {
		ctx := context.Background()
		s, err := NewPostgresStore(ctx, url)
		require.NoError(t, err)
		_, err = s.pool.Exec(ctx, `TRUNCATE auth_credentials, auth_keys, quota_counters, whitelist, api_keys, incoming_messages`)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestRedisQuotaStore(t *testing.T) {
	url := os.Getenv("WA_GATEWAY_TEST_REDIS")
	if url == "" {
		t.Skip("WA_GATEWAY_TEST_REDIS not set")
	}

	ctx := context.Background()
	s, err := NewRedisQuotaStore(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	day := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() { s.client.Del(context.Background(), quotaKey("acme", "62812", day)) })

	n, err := s.GetQuotaCount(ctx, "acme", "62812", day)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for want := 1; want <= 3; want++ {
		n, err := s.IncrementQuota(ctx, "acme", "62812", day)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	ttl, err := s.client.TTL(ctx, quotaKey("acme", "62812", day)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestQuotaKey(t *testing.T) {
	assert.Equal(t, "quota:acme:2026-01-02:62812", quotaKey("ACME", "62812", "2026-01-02"))
}
