// Package synthesis builds the LLM prompt from a packed context and
// answer text, and extracts/scores citations (C11's non-transport half).
// Prompt assembly follows the same contract the teacher's
// internal/service/generator.go enforces in its defaultSystemPrompt —
// answer only from context, cite every claim, say so when the context is
// insufficient — generalized from Gemini's single-shot JSON response to
// the streaming [^n]-marker contract of §4.9.
package synthesis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/connexus-ai/ragcore/internal/model"
)

const systemPromptTemplate = `You are a retrieval-grounded assistant. Answer only using the numbered
context passages below. Every factual claim must carry a citation marker
in the form [^n], referencing the passage number it came from. If the
context does not contain enough information to answer, say so plainly
instead of speculating.`

// BuildPrompt assembles the system and user prompts for a query against a
// packed context, in the teacher's "context block, then query" order
// (buildUserPrompt in internal/service/generator.go).
func BuildPrompt(query string, pack model.ContextPack) (systemPrompt, userPrompt string) {
	var sb strings.Builder
	sb.WriteString("=== CONTEXT ===\n")
	sb.WriteString(pack.Serialized)
	sb.WriteString("=== QUESTION ===\n")
	sb.WriteString(query)
	return systemPromptTemplate, sb.String()
}

var markerPattern = regexp.MustCompile(`\[\^(\d+)\]`)

// ExtractCitations resolves every [^n] marker present in answer to its
// backing passage in pack, then runs a secondary rule-based rescue pass
// over passages the model used without a marker: a passage is credited if
// the answer contains a run of at least three consecutive non-trivial
// words from its content. Rule-based citations are tagged RuleBased so
// callers can weight them differently when scoring confidence.
func ExtractCitations(answer string, pack model.ContextPack) []model.SourceCitation {
	cited := make(map[int]bool)
	var citations []model.SourceCitation

	for _, m := range markerPattern.FindAllStringSubmatch(answer, -1) {
		n := atoiSafe(m[1])
		if n < 1 || n > len(pack.Passages) {
			continue
		}
		if cited[n] {
			continue
		}
		cited[n] = true
		citations = append(citations, citationFor(n, pack.Passages[n-1], false))
	}

	lowerAnswer := strings.ToLower(answer)
	for i, pp := range pack.Passages {
		n := i + 1
		if cited[n] {
			continue
		}
		if sharesPhrase(lowerAnswer, strings.ToLower(pp.Passage.Content)) {
			cited[n] = true
			citations = append(citations, citationFor(n, pp, true))
		}
	}

	return citations
}

func citationFor(n int, pp model.PackedPassage, ruleBased bool) model.SourceCitation {
	excerpt := pp.Passage.Content
	if len(excerpt) > 200 {
		excerpt = excerpt[:200]
	}
	return model.SourceCitation{
		Marker:         fmt.Sprintf("[^%d]", n),
		PassageID:      pp.Passage.ID,
		DocID:          pp.Passage.Payload.DocID,
		URL:            pp.Passage.Payload.URL,
		Title:          pp.Passage.Payload.Title,
		Excerpt:        excerpt,
		RelevanceScore: pp.Passage.FinalScore,
		RuleBased:      ruleBased,
	}
}

// sharesPhrase reports whether answer contains a run of >=3 consecutive
// words (len>2, to skip stopword-sized noise) also present contiguously
// in content.
func sharesPhrase(answer, content string) bool {
	words := strings.Fields(content)
	const runLen = 3
	for i := 0; i+runLen <= len(words); i++ {
		run := words[i : i+runLen]
		ok := true
		for _, w := range run {
			if len(w) <= 2 {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		phrase := strings.Join(run, " ")
		if strings.Contains(answer, phrase) {
			return true
		}
	}
	return false
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// Confidence computes the synthesis-stage confidence per §4.9:
// 0.4*citationCoverage + 0.4*avgCitationRelevance + 0.2*lengthPenalty.
func Confidence(answer string, citations []model.SourceCitation, pack model.ContextPack) float64 {
	coverage := 0.0
	if len(pack.Passages) > 0 {
		coverage = float64(len(citations)) / float64(len(pack.Passages))
		if coverage > 1 {
			coverage = 1
		}
	}

	avgRelevance := 0.0
	if len(citations) > 0 {
		var sum float64
		for _, c := range citations {
			sum += c.RelevanceScore
		}
		avgRelevance = sum / float64(len(citations))
	}

	length := len(answer)
	var lengthPenalty float64
	switch {
	case length < 50:
		lengthPenalty = 0.5
	case length <= 2000:
		lengthPenalty = 1.0
	default:
		lengthPenalty = 0.8
	}

	return 0.4*coverage + 0.4*avgRelevance + 0.2*lengthPenalty
}

// Finalize assembles a SynthesisResult from an accumulated answer (either
// collected from a stream or returned directly by Generate), independent
// of transport.
func Finalize(answer string, pack model.ContextPack, totalTokens int, modelName string, elapsedMs int64, reason model.CompletionReason) model.SynthesisResult {
	citations := ExtractCitations(answer, pack)
	return model.SynthesisResult{
		Answer:           answer,
		Citations:        citations,
		TotalTokens:       totalTokens,
		Model:            modelName,
		ElapsedMs:        elapsedMs,
		Success:          true,
		CompletionReason: reason,
		Confidence:       Confidence(answer, citations, pack),
	}
}

// Fallback builds a degraded-but-answered result when the LLM call fails:
// the single highest-scoring passage's first 300 characters, with one
// citation, per §4.9's fallback policy.
func Fallback(pack model.ContextPack) model.SynthesisResult {
	if len(pack.Passages) == 0 {
		return model.SynthesisResult{
			Answer:           "",
			Success:          false,
			FallbackUsed:     true,
			CompletionReason: model.CompletionError,
		}
	}

	top := pack.Passages[0]
	excerpt := top.Passage.Content
	if len(excerpt) > 300 {
		excerpt = excerpt[:300]
	}
	answer := excerpt + " " + top.Marker

	return model.SynthesisResult{
		Answer:       answer,
		Citations:    []model.SourceCitation{citationFor(1, top, false)},
		Success:      true,
		FallbackUsed: true,
		CompletionReason: model.CompletionFallback,
		Confidence:   0.3,
	}
}
