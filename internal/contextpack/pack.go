// Package contextpack orders, truncates, and formats context passages
// within a token budget (C10). The per-passage formatting — a "[n] (doc,
// score)\ncontent" block — is grounded on the teacher's buildUserPrompt in
// internal/service/generator.go, generalized from a fixed chunk list to a
// budget-bound pack independent of any one prompt template.
package contextpack

import (
	"fmt"
	"sort"
	"strings"

	"github.com/connexus-ai/ragcore/internal/model"
)

const (
	// DefaultBudgetTokens is the default token budget for a packed context.
	DefaultBudgetTokens = 4000
	// defaultPerPassageCapTokens bounds any single passage's contribution so
	// one long passage cannot crowd out the rest of the pack.
	defaultPerPassageCapTokens = 800
	// approxCharsPerToken is the coarse tokenizer approximation: ~4 chars/token.
	approxCharsPerToken = 4
)

// approxTokens estimates token count for a string using the same coarse
// chars/4 approximation the teacher uses implicitly for prompt sizing.
func approxTokens(s string) int {
	n := len(s) / approxCharsPerToken
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}

// Pack orders candidates descending by FinalScore, tags each with a [^n]
// marker, and serializes into a context block bounded by budgetTokens. If
// the budget is exceeded, passages are dropped from the tail. A passage
// whose content exceeds the per-passage cap is truncated on a sentence
// boundary with a trailing ellipsis.
func Pack(passages []model.Passage, budgetTokens int) model.ContextPack {
	if budgetTokens <= 0 {
		budgetTokens = DefaultBudgetTokens
	}

	ordered := append([]model.Passage(nil), passages...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].FinalScore > ordered[j].FinalScore })

	pack := model.ContextPack{Budget: budgetTokens}
	var sb strings.Builder
	used := 0
	dropped := 0

	for i, p := range ordered {
		marker := fmt.Sprintf("[^%d]", i+1)
		content := p.Content
		truncated := false
		if approxTokens(content) > defaultPerPassageCapTokens {
			content = truncateOnSentenceBoundary(content, defaultPerPassageCapTokens*approxCharsPerToken)
			truncated = true
		}

		block := formatBlock(marker, p, content)
		blockTokens := approxTokens(block)
		if used+blockTokens > budgetTokens {
			dropped = len(ordered) - i
			break
		}

		sb.WriteString(block)
		sb.WriteString("\n\n")
		used += blockTokens
		pack.Passages = append(pack.Passages, model.PackedPassage{Marker: marker, Passage: p, Truncated: truncated})
	}

	pack.Serialized = sb.String()
	pack.TokensUsed = used
	pack.Dropped = dropped
	return pack
}

func formatBlock(marker string, p model.Passage, content string) string {
	meta := []string{}
	if p.Payload.Title != "" {
		meta = append(meta, "title: "+p.Payload.Title)
	}
	if p.Payload.URL != "" {
		meta = append(meta, "url: "+p.Payload.URL)
	}
	if !p.Payload.ModifiedAt.IsZero() {
		meta = append(meta, "modified: "+p.Payload.ModifiedAt.Format("2006-01-02"))
	}
	header := fmt.Sprintf("%s (doc: %s, score: %.2f", marker, p.Payload.DocID, p.FinalScore)
	if len(meta) > 0 {
		header += ", " + strings.Join(meta, ", ")
	}
	header += ")"
	return header + "\n" + content
}

// truncateOnSentenceBoundary cuts content at or before maxChars, preferring
// to break after the last sentence-ending punctuation, and appends an
// ellipsis.
func truncateOnSentenceBoundary(content string, maxChars int) string {
	if len(content) <= maxChars {
		return content
	}
	window := content[:maxChars]
	cut := -1
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '.' || window[i] == '!' || window[i] == '?' {
			cut = i + 1
			break
		}
	}
	if cut <= 0 {
		cut = maxChars
	}
	return strings.TrimSpace(window[:cut]) + " …"
}
