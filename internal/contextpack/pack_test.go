package contextpack

import (
	"strings"
	"testing"

	"github.com/connexus-ai/ragcore/internal/model"
)

func mkPassage(id string, score float64, content string) model.Passage {
	return model.Passage{ID: id, Content: content, FinalScore: score, Payload: model.Payload{DocID: "doc-" + id}}
}

func TestPack_OrdersByFinalScoreAndTagsMarkers(t *testing.T) {
	passages := []model.Passage{
		mkPassage("a", 0.4, "low score content"),
		mkPassage("b", 0.9, "high score content"),
	}
	pack := Pack(passages, DefaultBudgetTokens)
	if len(pack.Passages) != 2 {
		t.Fatalf("expected 2 packed passages, got %d", len(pack.Passages))
	}
	if pack.Passages[0].Passage.ID != "b" {
		t.Errorf("expected highest-scoring passage first, got %s", pack.Passages[0].Passage.ID)
	}
	if pack.Passages[0].Marker != "[^1]" {
		t.Errorf("expected marker [^1], got %s", pack.Passages[0].Marker)
	}
}

func TestPack_DropsFromTailWhenBudgetExceeded(t *testing.T) {
	long := strings.Repeat("word ", 2000)
	passages := []model.Passage{
		mkPassage("a", 0.9, long),
		mkPassage("b", 0.8, long),
		mkPassage("c", 0.7, "short tail passage that should be dropped"),
	}
	pack := Pack(passages, 500)
	if pack.Dropped == 0 {
		t.Fatal("expected at least one passage to be dropped under a tight budget")
	}
	if pack.TokensUsed > 500 {
		t.Errorf("expected tokens used to stay within budget, got %d", pack.TokensUsed)
	}
}

func TestPack_TruncatesOversizedPassageOnSentenceBoundary(t *testing.T) {
	sentence := "This is a sentence. "
	long := strings.Repeat(sentence, 300) // well over the per-passage cap
	passages := []model.Passage{mkPassage("a", 0.9, long)}

	pack := Pack(passages, 100000)
	if len(pack.Passages) != 1 {
		t.Fatalf("expected 1 packed passage, got %d", len(pack.Passages))
	}
	if !pack.Passages[0].Truncated {
		t.Fatal("expected oversized passage to be marked truncated")
	}
	if !strings.Contains(pack.Serialized, "…") {
		t.Error("expected trailing ellipsis on truncated passage")
	}
}
