package reconstruct

import (
	"context"
	"errors"
	"testing"

	"github.com/connexus-ai/ragcore/internal/model"
)

type fakeFetcher struct {
	siblings map[string][]model.Passage
	err      error
}

func (f *fakeFetcher) FetchSiblings(ctx context.Context, docID, section string, partIndices []int) ([]model.Passage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.siblings[docID+"/"+section], nil
}

func passage(id, docID, sectionPath string, score float64, acl []string) model.Passage {
	return model.Passage{
		ID:         id,
		Content:    "content of " + id,
		FinalScore: score,
		Payload:    model.Payload{DocID: docID, SectionPath: sectionPath, ACL: acl, TenantID: "tenant-a"},
	}
}

func TestReconstruct_AssemblesMissingSibling(t *testing.T) {
	candidates := []model.Passage{
		passage("p0", "doc-1", "block_9/part_0", 0.85, []string{"public"}),
	}
	fetcher := &fakeFetcher{
		siblings: map[string][]model.Passage{
			"doc-1/block_9": {passage("p1", "doc-1", "block_9/part_1", 0.6, []string{"u1"})},
		},
	}

	// groupBySection requires >1 present part to trigger; add a second
	// present part to exercise the assembly path deterministically.
	candidates = append(candidates, passage("p2", "doc-1", "block_9/part_2", 0.5, []string{"g1"}))

	synthetics, err := Reconstruct(context.Background(), candidates, fetcher, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(synthetics) != 1 {
		t.Fatalf("expected 1 synthetic passage, got %d", len(synthetics))
	}
	s := synthetics[0]
	if s.ID != "reconstructed:doc-1:block_9" {
		t.Errorf("unexpected synthetic id: %s", s.ID)
	}
	if s.FinalScore >= 0.85 {
		t.Errorf("expected synthetic score to be penalized below max constituent, got %v", s.FinalScore)
	}
	wantACLCount := 3 // public, u1, g1
	if len(s.Payload.ACL) != wantACLCount {
		t.Errorf("expected %d ACL entries (union), got %d: %v", wantACLCount, len(s.Payload.ACL), s.Payload.ACL)
	}
}

func TestReconstruct_NoFragmentarySections_ReturnsNil(t *testing.T) {
	candidates := []model.Passage{
		passage("p0", "doc-1", "", 0.85, []string{"public"}),
	}
	synthetics, err := Reconstruct(context.Background(), candidates, &fakeFetcher{}, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(synthetics) != 0 {
		t.Fatalf("expected no synthetics for non-sectioned passages, got %d", len(synthetics))
	}
}

func TestReconstruct_FetchFailure_SkipsSectionOnly(t *testing.T) {
	candidates := []model.Passage{
		passage("p0", "doc-1", "block_9/part_0", 0.85, []string{"public"}),
		passage("p1", "doc-1", "block_9/part_2", 0.5, []string{"public"}),
	}
	fetcher := &fakeFetcher{err: errors.New("store timeout")}

	synthetics, err := Reconstruct(context.Background(), candidates, fetcher, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(synthetics) != 1 {
		t.Fatalf("expected reconstruction to still synthesize from present parts, got %d", len(synthetics))
	}
}
