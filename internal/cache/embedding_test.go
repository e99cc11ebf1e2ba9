package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newEmbeddingCache(t *testing.T) (*EmbeddingCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewEmbeddingCache(client, 1*time.Minute), mr
}

func TestEmbeddingCache_HitMiss(t *testing.T) {
	c, _ := newEmbeddingCache(t)
	ctx := context.Background()
	hash := EmbeddingQueryHash("test query")

	if _, ok := c.Get(ctx, "t1", hash); ok {
		t.Fatal("expected miss on empty cache")
	}

	vec := []float32{0.1, 0.2, 0.3}
	c.Set(ctx, "t1", hash, vec)

	got, ok := c.Get(ctx, "t1", hash)
	if !ok {
		t.Fatal("expected hit after set")
	}
	if len(got) != 3 || got[0] != 0.1 || got[1] != 0.2 || got[2] != 0.3 {
		t.Fatalf("unexpected vector: %v", got)
	}
}

func TestEmbeddingCache_TenantIsolation(t *testing.T) {
	c, _ := newEmbeddingCache(t)
	ctx := context.Background()
	hash := EmbeddingQueryHash("shared query text")

	c.Set(ctx, "tenant-a", hash, []float32{1.0})

	if _, ok := c.Get(ctx, "tenant-b", hash); ok {
		t.Fatal("expected miss for a different tenant with the same query hash")
	}
	if _, ok := c.Get(ctx, "tenant-a", hash); !ok {
		t.Fatal("expected hit for the owning tenant")
	}
}

func TestEmbeddingCache_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	c := NewEmbeddingCache(client, 10*time.Millisecond)
	ctx := context.Background()

	hash := EmbeddingQueryHash("expire me")
	c.Set(ctx, "t1", hash, []float32{1.0})

	if _, ok := c.Get(ctx, "t1", hash); !ok {
		t.Fatal("expected hit before expiry")
	}

	mr.FastForward(20 * time.Millisecond)
	if _, ok := c.Get(ctx, "t1", hash); ok {
		t.Fatal("expected miss after expiry")
	}
}

func TestEmbeddingQueryHash_Deterministic(t *testing.T) {
	h1 := EmbeddingQueryHash("What is TUMM?")
	h2 := EmbeddingQueryHash("what is tumm?")
	h3 := EmbeddingQueryHash("  What is TUMM?  ")

	if h1 != h2 {
		t.Fatalf("case-insensitive mismatch: %s != %s", h1, h2)
	}
	if h1 != h3 {
		t.Fatalf("whitespace-insensitive mismatch: %s != %s", h1, h3)
	}
}

func TestEmbeddingQueryHash_Different(t *testing.T) {
	h1 := EmbeddingQueryHash("query one")
	h2 := EmbeddingQueryHash("query two")

	if h1 == h2 {
		t.Fatal("different queries should produce different hashes")
	}
}

func TestEmbeddingCache_Roundtrip768(t *testing.T) {
	c, _ := newEmbeddingCache(t)
	ctx := context.Background()

	vec := make([]float32, 768)
	for i := range vec {
		vec[i] = float32(i) * 0.001
	}

	hash := EmbeddingQueryHash("roundtrip test")
	c.Set(ctx, "t1", hash, vec)

	got, ok := c.Get(ctx, "t1", hash)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 768 {
		t.Fatalf("expected 768 dims, got %d", len(got))
	}
	if got[0] != 0.0 || got[767] != float32(767)*0.001 {
		t.Fatalf("vector data corrupted: first=%f last=%f", got[0], got[767])
	}
}

func TestEmbeddingCache_InvalidateTenant(t *testing.T) {
	c, _ := newEmbeddingCache(t)
	ctx := context.Background()

	h1 := EmbeddingQueryHash("query one")
	h2 := EmbeddingQueryHash("query two")
	c.Set(ctx, "t1", h1, []float32{1.0})
	c.Set(ctx, "t1", h2, []float32{2.0})
	c.Set(ctx, "t2", h1, []float32{3.0})

	if err := c.InvalidateTenant(ctx, "t1"); err != nil {
		t.Fatalf("InvalidateTenant: %v", err)
	}

	if _, ok := c.Get(ctx, "t1", h1); ok {
		t.Fatal("expected t1/h1 to be invalidated")
	}
	if _, ok := c.Get(ctx, "t1", h2); ok {
		t.Fatal("expected t1/h2 to be invalidated")
	}
	if _, ok := c.Get(ctx, "t2", h1); !ok {
		t.Fatal("expected t2/h1 to survive t1's invalidation")
	}
}
