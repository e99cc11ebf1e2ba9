package llmclient

import (
	"context"
	"errors"
	"math"
	"testing"
)

type fakeEmbedder struct {
	vectors [][]float32
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f.vectors, f.err
}

func TestNormalizingEmbedder_L2Normalizes(t *testing.T) {
	inner := &fakeEmbedder{vectors: [][]float32{{3, 4}}}
	e := NewNormalizingEmbedder(inner, 2, true)

	out, err := e.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var norm float64
	for _, x := range out[0] {
		norm += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-6 {
		t.Errorf("expected unit vector, got norm %f", math.Sqrt(norm))
	}
}

func TestNormalizingEmbedder_DimensionMismatch_Errors(t *testing.T) {
	inner := &fakeEmbedder{vectors: [][]float32{{1, 2, 3}}}
	e := NewNormalizingEmbedder(inner, 2, false)

	_, err := e.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestNormalizingEmbedder_InnerError_Wrapped(t *testing.T) {
	wantErr := errors.New("boom")
	inner := &fakeEmbedder{err: wantErr}
	e := NewNormalizingEmbedder(inner, 2, false)

	_, err := e.Embed(context.Background(), []string{"hello"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected wrapped inner error, got %v", err)
	}
}

func TestNormalizingEmbedder_ZeroVector_NoNaN(t *testing.T) {
	inner := &fakeEmbedder{vectors: [][]float32{{0, 0}}}
	e := NewNormalizingEmbedder(inner, 2, true)

	out, err := e.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, x := range out[0] {
		if math.IsNaN(float64(x)) {
			t.Fatal("expected no NaN for zero vector normalization")
		}
	}
}
