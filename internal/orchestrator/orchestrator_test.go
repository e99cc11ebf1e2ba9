package orchestrator

import (
	"context"
	"testing"

	"github.com/connexus-ai/ragcore/internal/accessfilter"
	"github.com/connexus-ai/ragcore/internal/model"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{0.1, 0.2, 0.3}}, nil
}

type fakeVectorStore struct {
	passages []model.Passage
}

func (f fakeVectorStore) Search(ctx context.Context, vector []float32, limit int, filter *accessfilter.Filter) ([]model.Passage, error) {
	return f.passages, nil
}

type fakeKeywordStore struct {
	passages []model.Passage
}

func (f fakeKeywordStore) Search(ctx context.Context, queryText string, limit int, filter *accessfilter.Filter) ([]model.Passage, error) {
	return f.passages, nil
}

type emptyStore struct{}

func (emptyStore) Search(ctx context.Context, vector []float32, limit int, filter *accessfilter.Filter) ([]model.Passage, error) {
	return nil, nil
}

func (emptyStore) SearchKeyword(ctx context.Context, queryText string, limit int, filter *accessfilter.Filter) ([]model.Passage, error) {
	return nil, nil
}

func testUser() model.UserContext {
	return model.UserContext{UserID: "u1", TenantID: "t1", GroupIDs: []string{"g1"}}
}

func samplePassage(id string, score float64) model.Passage {
	return model.Passage{
		ID:         id,
		Content:    "invoices must be paid within thirty days of the billing date",
		FinalScore: score,
		Payload:    model.Payload{TenantID: "t1", DocID: "doc-" + id, ACL: []string{"public"}},
	}
}

func TestAsk_NoResults_ReturnsIDK(t *testing.T) {
	o := &Orchestrator{
		Embedder:     fakeEmbedder{},
		VectorStore:  emptyStore{},
		KeywordStore: fakeKeywordStore{},
	}
	q := model.RetrievalQuery{ID: "q1", Text: "what is the payment term?", User: testUser(), K: 8}

	result, err := o.Ask(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != model.OutcomeIDK {
		t.Errorf("expected IDK outcome for zero candidates, got %s", result.Outcome)
	}
	if result.GuardrailDecision.ReasonCode != model.ReasonNoRelevantDocs {
		t.Errorf("expected NO_RELEVANT_DOCS, got %s", result.GuardrailDecision.ReasonCode)
	}
}

func TestAsk_HighConfidenceResults_Answerable(t *testing.T) {
	o := &Orchestrator{
		Embedder:     fakeEmbedder{},
		VectorStore:  fakeVectorStore{passages: []model.Passage{samplePassage("a", 0.92), samplePassage("b", 0.85)}},
		KeywordStore: fakeKeywordStore{passages: []model.Passage{samplePassage("a", 0.7)}},
	}
	q := model.RetrievalQuery{ID: "q2", Text: "what is the payment term?", User: testUser(), K: 8}

	result, err := o.Ask(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != model.OutcomeAnswered {
		t.Errorf("expected answered outcome, got %s: reason=%s", result.Outcome, result.GuardrailDecision.ReasonCode)
	}
	if !result.GuardrailDecision.IsAnswerable {
		t.Error("expected IsAnswerable=true for high-confidence results")
	}
	if len(result.Citations) == 0 {
		t.Error("expected fallback synthesis to produce at least one citation")
	}
}

func TestAsk_AccessAnomaly_Dropped(t *testing.T) {
	leaked := samplePassage("leaked", 0.9)
	leaked.Payload.TenantID = "other-tenant"
	o := &Orchestrator{
		Embedder:     fakeEmbedder{},
		VectorStore:  fakeVectorStore{passages: []model.Passage{leaked, samplePassage("ok", 0.8)}},
		KeywordStore: fakeKeywordStore{},
	}
	q := model.RetrievalQuery{ID: "q3", Text: "payment terms", User: testUser(), K: 8}

	result, err := o.Ask(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range result.RetrievedDocuments {
		if p.ID == "leaked" {
			t.Fatal("cross-tenant passage should have been dropped by access anomaly filtering")
		}
	}
}

func TestAskStream_EmitsConnectionOpenedFirst(t *testing.T) {
	o := &Orchestrator{
		Embedder:     fakeEmbedder{},
		VectorStore:  emptyStore{},
		KeywordStore: fakeKeywordStore{},
	}
	q := model.RetrievalQuery{ID: "q4", Text: "what is the payment term?", User: testUser(), K: 8}

	events := o.AskStream(context.Background(), q)
	first := <-events
	if first.Type != EventConnectionOpened {
		t.Fatalf("expected connection_opened first, got %s", first.Type)
	}

	var sawDone bool
	for ev := range events {
		if ev.Type == EventDone {
			sawDone = true
		}
	}
	if !sawDone {
		t.Error("expected a done event to terminate the stream")
	}
}
