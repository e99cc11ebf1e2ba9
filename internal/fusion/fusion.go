// Package fusion combines a vector result list and a keyword result list
// into a single ordered candidate list (C5). It is the direct successor of
// the teacher's reciprocalRankFusion in internal/service/retriever.go: the
// same map-id-to-score, sort-descending shape is kept, but the single
// historical rank-only formula (k=60) is demoted to the borda_rank
// strategy, kept only for regression tests, and three score-preserving
// strategies take its place as selectable defaults.
package fusion

import (
	"math"
	"sort"
	"strings"

	"github.com/connexus-ai/ragcore/internal/model"
)

// Weights holds the vector/keyword weight pair used by weighted_average,
// score_weighted_rrf, and borda_rank. They must sum to 1.
type Weights struct {
	Vector  float64
	Keyword float64
}

// ClassifyIntent applies the lightweight keyword/shape heuristic from §4.3
// to pick a query intent. The exact thresholds are an open question in the
// source spec (§9a); this table is the decided, configuration-driven
// answer: callers may override via IntentKeywords.
func ClassifyIntent(query string, keywords IntentKeywords) model.QueryIntent {
	q := strings.ToLower(query)
	for _, kw := range keywords.Definition {
		if strings.Contains(q, kw) {
			return model.IntentDefinition
		}
	}
	for _, kw := range keywords.Measurement {
		if strings.Contains(q, kw) {
			return model.IntentMeasurement
		}
	}
	for _, kw := range keywords.Procedure {
		if strings.Contains(q, kw) {
			return model.IntentProcedure
		}
	}
	if looksLikeEntityLookup(q) {
		return model.IntentEntityLookup
	}
	return model.IntentExploratory
}

// IntentKeywords is the small, configuration-driven table resolving open
// question (a): which surface keywords map to which intent.
type IntentKeywords struct {
	Definition  []string
	Measurement []string
	Procedure   []string
}

// DefaultIntentKeywords is a reasonable starting table; tenants may supply
// their own via configuration.
func DefaultIntentKeywords() IntentKeywords {
	return IntentKeywords{
		Definition:  []string{"what is", "what are", "define", "definition of", "meaning of"},
		Measurement: []string{"how much", "how many", "what is the cost", "rate of", "percentage"},
		Procedure:   []string{"how do i", "how to", "steps to", "process for", "procedure for"},
	}
}

func looksLikeEntityLookup(q string) bool {
	// Short queries (one to five words) read as lookups rather than open
	// exploration. Only the word count is checked — see open question (a).
	words := strings.Fields(q)
	return len(words) > 0 && len(words) <= 5
}

// WeightsForIntent implements the adaptive weighting table in §4.3.
func WeightsForIntent(intent model.QueryIntent) (Weights, model.FusionStrategy) {
	switch intent {
	case model.IntentDefinition, model.IntentMeasurement, model.IntentProcedure:
		return Weights{Vector: 0.5, Keyword: 0.5}, model.FusionWeightedAverage
	default:
		return Weights{Vector: 0.7, Keyword: 0.3}, model.FusionWeightedAverage
	}
}

// TopNormalizedVectorScore returns the highest min-max/z-score normalized
// score among the vector candidates, or 0 if there are none. Callers use
// this ahead of Fuse to drive the §4.3 high-confidence strategy upgrade,
// since that decision needs the normalized score before fusion runs.
func TopNormalizedVectorScore(vector []Candidate, norm model.FusionNormalization) float64 {
	scores := normalizeScores(vector, norm)
	var top float64
	for _, s := range scores {
		if s > top {
			top = s
		}
	}
	return top
}

// ShouldUpgradeToMaxConfidence implements the §4.3 high-confidence
// shortcut: definition/measurement/procedure queries upgrade at a lower
// bar (0.70) than entity_lookup/exploratory queries (0.75), since the
// first three intents already carry a narrower, more literal match.
func ShouldUpgradeToMaxConfidence(intent model.QueryIntent, topVectorScore float64) bool {
	switch intent {
	case model.IntentDefinition, model.IntentMeasurement, model.IntentProcedure:
		return topVectorScore >= 0.70
	default:
		return topVectorScore >= 0.75
	}
}

// Candidate is one fusion input: a passage plus its native scores from
// each source list it appeared in (nil when absent from that list).
type Candidate struct {
	Passage      model.Passage
	VectorScore  *float64
	KeywordScore *float64
}

// Input bundles the two ranked source lists feeding fusion. Order within
// each slice is the source's own rank order (index 0 = rank 1).
type Input struct {
	Vector  []Candidate
	Keyword []Candidate
}

// Result is one fused candidate plus the trace data needed for debugging.
type Result struct {
	Passage    model.Passage
	FusedScore float64
	Trace      model.FusionTraceEntry
}

// Fuse runs the configured strategy over the inputs and returns at most k
// results, sorted by fused score with deterministic tie-breaking.
func Fuse(in Input, cfg model.TenantFusionConfig, w Weights, k int) []Result {
	vecIdx, kwIdx := indexByID(in.Vector), indexByID(in.Keyword)
	vecRank, kwRank := rankByID(in.Vector), rankByID(in.Keyword)
	normVec := normalizeScores(in.Vector, cfg.Normalization)
	normKw := normalizeScores(in.Keyword, cfg.Normalization)

	ids := unionIDs(in.Vector, in.Keyword)
	results := make([]Result, 0, len(ids))

	for _, id := range ids {
		nv, hasV := normVec[id]
		nk, hasK := normKw[id]
		rv, hasRV := vecRank[id]
		rk, hasRK := kwRank[id]

		var fused float64
		switch cfg.Strategy {
		case model.FusionScoreWeightedRRF:
			fused = scoreWeightedRRF(nv, hasV, rv, nk, hasK, rk, w, cfg.KParam)
		case model.FusionMaxConfidence:
			fused = maxConfidence(nv, hasV, nk, hasK)
		case model.FusionBordaRank:
			fused = bordaRank(hasRV, rv, hasRK, rk, w, cfg.KParam)
		default: // weighted_average
			fused = weightedAverage(nv, hasV, nk, hasK, w)
		}

		passage := pickPassage(id, vecIdx, kwIdx)
		trace := model.FusionTraceEntry{
			ID:         id,
			Strategy:   string(cfg.Strategy),
			FusedScore: fused,
			Components: map[string]float64{},
		}
		if hasRV {
			rank := rv
			trace.RankVec = &rank
		}
		if hasRK {
			rank := rk
			trace.RankKw = &rank
		}
		if hasV {
			v := nv
			trace.NormVec = &v
			trace.Components["normVec"] = nv
		}
		if hasK {
			v := nk
			trace.NormKw = &v
			trace.Components["normKw"] = nk
		}

		results = append(results, Result{Passage: passage, FusedScore: fused, Trace: trace})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		av, bv := valueOr(a.Trace.NormVec), valueOr(b.Trace.NormVec)
		if av != bv {
			return av > bv
		}
		ak, bk := valueOr(a.Trace.NormKw), valueOr(b.Trace.NormKw)
		if ak != bk {
			return ak > bk
		}
		return a.Passage.ID < b.Passage.ID
	})

	if k >= 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

func weightedAverage(nv float64, hasV bool, nk float64, hasK bool, w Weights) float64 {
	switch {
	case hasV && hasK:
		return w.Vector*nv + w.Keyword*nk
	case hasV:
		return nv
	case hasK:
		return nk
	default:
		return 0
	}
}

func scoreWeightedRRF(nv float64, hasV bool, rv int, nk float64, hasK bool, rk int, w Weights, kp int) float64 {
	if kp < 1 {
		kp = 1
	}
	var vTerm, kTerm float64
	if hasV {
		vTerm = w.Vector * nv / float64(rv+kp)
	}
	if hasK {
		kTerm = w.Keyword * nk / float64(rk+kp)
	}
	return vTerm + kTerm
}

func maxConfidence(nv float64, hasV bool, nk float64, hasK bool) float64 {
	if hasV && hasK {
		return math.Max(nv, nk)
	}
	if hasV {
		return nv
	}
	if hasK {
		return nk
	}
	return 0
}

// bordaRank is the teacher's original reciprocalRankFusion formula,
// generalized to configurable weights. Kept only for regression tests
// against the historical score-collapse bug (k_p=60).
func bordaRank(hasRV bool, rv int, hasRK bool, rk int, w Weights, kp int) float64 {
	if kp < 1 {
		kp = 1
	}
	var vTerm, kTerm float64
	if hasRV {
		vTerm = w.Vector / float64(rv+kp)
	}
	if hasRK {
		kTerm = w.Keyword / float64(rk+kp)
	}
	return vTerm + kTerm
}

func indexByID(cands []Candidate) map[string]Candidate {
	m := make(map[string]Candidate, len(cands))
	for _, c := range cands {
		if _, ok := m[c.Passage.ID]; !ok {
			m[c.Passage.ID] = c
		}
	}
	return m
}

func rankByID(cands []Candidate) map[string]int {
	m := make(map[string]int, len(cands))
	for i, c := range cands {
		if _, ok := m[c.Passage.ID]; !ok {
			m[c.Passage.ID] = i + 1 // 1-based rank
		}
	}
	return m
}

// normalizeScores applies the configured normalization to a candidate
// list's raw scores, keyed by passage id. Constant lists normalize to 0.5
// under minmax, per §4.3.
func normalizeScores(cands []Candidate, norm model.FusionNormalization) map[string]float64 {
	out := make(map[string]float64, len(cands))
	if len(cands) == 0 {
		return out
	}

	scoreOf := func(c Candidate) float64 {
		if c.VectorScore != nil {
			return *c.VectorScore
		}
		if c.KeywordScore != nil {
			return *c.KeywordScore
		}
		return 0
	}

	switch norm {
	case model.NormalizeNone:
		for _, c := range cands {
			if _, ok := out[c.Passage.ID]; !ok {
				out[c.Passage.ID] = scoreOf(c)
			}
		}
	case model.NormalizeZScore:
		mean, std := meanStdDev(cands, scoreOf)
		for _, c := range cands {
			if _, ok := out[c.Passage.ID]; ok {
				continue
			}
			if std == 0 {
				out[c.Passage.ID] = 0.5
				continue
			}
			z := (scoreOf(c) - mean) / std
			out[c.Passage.ID] = sigmoid(z)
		}
	default: // minmax
		min, max := minMax(cands, scoreOf)
		for _, c := range cands {
			if _, ok := out[c.Passage.ID]; ok {
				continue
			}
			if max == min {
				out[c.Passage.ID] = 0.5
				continue
			}
			out[c.Passage.ID] = (scoreOf(c) - min) / (max - min)
		}
	}
	return out
}

func minMax(cands []Candidate, scoreOf func(Candidate) float64) (float64, float64) {
	min, max := math.Inf(1), math.Inf(-1)
	for _, c := range cands {
		s := scoreOf(c)
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return min, max
}

func meanStdDev(cands []Candidate, scoreOf func(Candidate) float64) (float64, float64) {
	if len(cands) == 0 {
		return 0, 0
	}
	var sum float64
	for _, c := range cands {
		sum += scoreOf(c)
	}
	mean := sum / float64(len(cands))
	var variance float64
	for _, c := range cands {
		d := scoreOf(c) - mean
		variance += d * d
	}
	variance /= float64(len(cands))
	return mean, math.Sqrt(variance)
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

func unionIDs(a, b []Candidate) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, c := range a {
		if _, ok := seen[c.Passage.ID]; !ok {
			seen[c.Passage.ID] = struct{}{}
			ids = append(ids, c.Passage.ID)
		}
	}
	for _, c := range b {
		if _, ok := seen[c.Passage.ID]; !ok {
			seen[c.Passage.ID] = struct{}{}
			ids = append(ids, c.Passage.ID)
		}
	}
	return ids
}

func pickPassage(id string, vecIdx, kwIdx map[string]Candidate) model.Passage {
	if c, ok := vecIdx[id]; ok {
		return c.Passage
	}
	return kwIdx[id].Passage
}

func valueOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

