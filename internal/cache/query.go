// Package cache provides Redis-backed query result caching for the RAG
// pipeline.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/ragcore/internal/orchestrator"
)

// QueryCache caches non-streaming orchestrator.Result values by
// (tenantID, query, k). A hit skips the entire retrieval-and-synthesis
// pipeline for a repeated question within the same tenant.
type QueryCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New creates a QueryCache backed by client.
func New(client redis.UniversalClient, ttl time.Duration) *QueryCache {
	return &QueryCache{client: client, ttl: ttl}
}

// Get returns a cached Result if present and not expired.
func (c *QueryCache) Get(ctx context.Context, tenantID, query string, k int) (*orchestrator.Result, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	key := queryKey(tenantID, query, k)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("cache.QueryCache.Get: redis error", "key", key, "error", err)
		}
		return nil, false
	}
	var result orchestrator.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		slog.Warn("cache.QueryCache.Get: decode error", "key", key, "error", err)
		return nil, false
	}
	slog.Info("cache.QueryCache: hit", "tenant_id", tenantID)
	return &result, true
}

// Set stores a Result in the cache.
func (c *QueryCache) Set(ctx context.Context, tenantID, query string, k int, result *orchestrator.Result) {
	if c == nil || c.client == nil {
		return
	}
	key := queryKey(tenantID, query, k)
	data, err := json.Marshal(result)
	if err != nil {
		slog.Warn("cache.QueryCache.Set: encode error", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		slog.Warn("cache.QueryCache.Set: redis error", "key", key, "error", err)
		return
	}
	slog.Info("cache.QueryCache: set", "tenant_id", tenantID, "ttl_s", int(c.ttl.Seconds()))
}

// InvalidateTenant removes every cached result for tenantID.
// Call this when a tenant's document set changes materially enough that
// stale answers would mislead users.
func (c *QueryCache) InvalidateTenant(ctx context.Context, tenantID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	prefix := fmt.Sprintf("qc:%s:", tenantID)
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var count int
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			slog.Warn("cache.QueryCache.InvalidateTenant: del error", "key", iter.Val(), "error", err)
			continue
		}
		count++
	}
	if count > 0 {
		slog.Info("cache.QueryCache: invalidated tenant", "tenant_id", tenantID, "entries_removed", count)
	}
	return iter.Err()
}

// queryKey builds a deterministic key: "qc:{tenantID}:{k}:{sha256(query)}"
func queryKey(tenantID, query string, k int) string {
	h := sha256.Sum256([]byte(query))
	return fmt.Sprintf("qc:%s:%d:%x", tenantID, k, h[:8])
}
