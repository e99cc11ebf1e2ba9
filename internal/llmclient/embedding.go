package llmclient

import (
	"context"
	"fmt"
	"math"
)

// EmbeddingClient is the C1 contract: embed(text) -> vector[dim]. dim is
// fixed at process start (set by the process-wide EMBEDDING_DIMENSIONS
// knob in internal/config) and must match the vector store collection.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// NormalizingEmbedder wraps a provider-specific EmbeddingClient (the
// teacher's gcpclient.EmbeddingAdapter, kept as the embedding transport —
// see SPEC_FULL.md §3) and applies L2 normalization before returning,
// required when the vector store uses cosine distance (§4.1), plus the
// dimension check the same section requires.
type NormalizingEmbedder struct {
	inner     EmbeddingClient
	dim       int
	normalize bool
}

// NewNormalizingEmbedder wraps inner with the dimension contract and
// optional L2 normalization.
func NewNormalizingEmbedder(inner EmbeddingClient, dim int, normalize bool) *NormalizingEmbedder {
	return &NormalizingEmbedder{inner: inner, dim: dim, normalize: normalize}
}

// Embed produces vectors for texts, failing with a wrapped error tagged
// EMBEDDING_UNAVAILABLE on any error from the inner client, and with an
// error tagged DIMENSION_MISMATCH if a returned vector's length disagrees
// with the configured dimension. The orchestrator treats either failure as
// a missing vector stage and continues keyword-only.
func (e *NormalizingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.inner.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("llmclient.Embed: EMBEDDING_UNAVAILABLE: %w", err)
	}

	for i, v := range vectors {
		if e.dim > 0 && len(v) != e.dim {
			return nil, fmt.Errorf("llmclient.Embed: DIMENSION_MISMATCH: got %d, want %d", len(v), e.dim)
		}
		if e.normalize {
			vectors[i] = l2Normalize(v)
		}
	}
	return vectors, nil
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
