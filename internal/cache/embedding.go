// Package cache provides Redis-backed caching for the RAG pipeline.
//
// EmbeddingCache stores tenant-scoped query→vector mappings to avoid
// redundant embedding-provider calls for repeated or similar queries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmbeddingCache caches query embedding vectors in Redis, keyed by tenant and
// normalized query hash. Entries expire via Redis TTL rather than a
// background sweep.
type EmbeddingCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// DefaultEmbeddingTTL is 15 minutes unless overridden by EMBEDDING_CACHE_TTL env var.
func DefaultEmbeddingTTL() time.Duration {
	if v := os.Getenv("EMBEDDING_CACHE_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 15 * time.Minute
}

// NewEmbeddingCache creates an EmbeddingCache backed by client.
func NewEmbeddingCache(client redis.UniversalClient, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{client: client, ttl: ttl}
}

// Get returns a cached embedding vector for tenantID+queryHash if present.
func (c *EmbeddingCache) Get(ctx context.Context, tenantID, queryHash string) ([]float32, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	key := embeddingKey(tenantID, queryHash)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("cache.EmbeddingCache.Get: redis error", "key", key, "error", err)
		}
		return nil, false
	}
	vec, err := decodeVector(raw)
	if err != nil {
		slog.Warn("cache.EmbeddingCache.Get: decode error", "key", key, "error", err)
		return nil, false
	}
	slog.Info("cache.EmbeddingCache: hit", "tenant_id", tenantID, "query_hash", queryHash)
	return vec, true
}

// Set stores an embedding vector for tenantID+queryHash.
func (c *EmbeddingCache) Set(ctx context.Context, tenantID, queryHash string, vec []float32) {
	if c == nil || c.client == nil {
		return
	}
	key := embeddingKey(tenantID, queryHash)
	if err := c.client.Set(ctx, key, encodeVector(vec), c.ttl).Err(); err != nil {
		slog.Warn("cache.EmbeddingCache.Set: redis error", "key", key, "error", err)
		return
	}
	slog.Info("cache.EmbeddingCache: set", "tenant_id", tenantID, "query_hash", queryHash, "vec_dim", len(vec))
}

// InvalidateTenant removes every cached embedding for tenantID. Call this
// when a tenant's document set changes materially enough that stale
// embeddings would misdirect retrieval.
func (c *EmbeddingCache) InvalidateTenant(ctx context.Context, tenantID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	pattern := fmt.Sprintf("emb:%s:*", tenantID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var count int
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			slog.Warn("cache.EmbeddingCache.InvalidateTenant: del error", "key", iter.Val(), "error", err)
			continue
		}
		count++
	}
	if count > 0 {
		slog.Info("cache.EmbeddingCache: invalidated tenant", "tenant_id", tenantID, "entries_removed", count)
	}
	return iter.Err()
}

func embeddingKey(tenantID, queryHash string) string {
	return fmt.Sprintf("emb:%s:%s", tenantID, queryHash)
}

// EmbeddingQueryHash returns a deterministic cache key component for a query
// string. Normalizes by lowercasing and trimming whitespace before hashing.
func EmbeddingQueryHash(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h[:16])
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("cache: corrupt embedding payload (%d bytes)", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
