// Package confidence computes the source-aware confidence bundle (C8).
// It replaces the teacher's averaging approach in
// internal/service/selfrag.go — "overall confidence = average of three
// scores" — which this specification's design notes explicitly deprecate:
// averaging across stages hides the exact failure this module exists to
// catch, score collapse from rank-only fusion. The per-stage structure and
// doc-comment register are kept from selfrag.go; the formula is new.
package confidence

import (
	"fmt"
	"math"
	"sort"

	"github.com/connexus-ai/ragcore/internal/model"
)

const (
	defaultTopN            = 5
	lowCountFloorThreshold = 3
	lowCountFloorPenalty   = 0.1
	qpWarningThreshold     = 0.5
	qpCriticalThreshold    = 0.2
)

// ScoresFrom reduces a raw score population to the StageScores inputs
// stageConfidence needs, over the top-n scores (default 5) by descending
// value.
func ScoresFrom(raw []float64, topN int) model.StageScores {
	if topN <= 0 {
		topN = defaultTopN
	}
	sorted := append([]float64(nil), raw...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	if len(sorted) > topN {
		sorted = sorted[:topN]
	}
	if len(sorted) == 0 {
		return model.StageScores{}
	}

	top := sorted[0]
	var sum float64
	for _, s := range sorted {
		sum += s
	}
	mean := sum / float64(len(sorted))

	var variance float64
	for _, s := range sorted {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(sorted))

	return model.StageScores{
		TopScore:  top,
		MeanScore: mean,
		StdDev:    math.Sqrt(variance),
		Count:     len(raw),
	}
}

// StageConfidence computes a single stage's confidence per §4.6:
// 0.5*topScore + 0.3*meanScore + 0.2*(1 - min(1, stdDev)), with a small
// floor penalty when fewer than 3 items were observed.
func StageConfidence(stage string, s model.StageScores) model.StageConfidence {
	conf := 0.5*s.TopScore + 0.3*s.MeanScore + 0.2*(1-math.Min(1, s.StdDev))
	if s.Count < lowCountFloorThreshold {
		conf -= lowCountFloorPenalty
	}
	conf = clamp01(conf)

	return model.StageConfidence{
		Stage:      stage,
		TopScore:   s.TopScore,
		MeanScore:  s.MeanScore,
		StdDev:     s.StdDev,
		Count:      s.Count,
		Confidence: conf,
	}
}

// QualityPreservation computes qp = clamp(fusion.topScore /
// max(vector.topScore, keyword.topScore), 0, 1) for the fusion stage (or
// the analogous upstream/downstream pair for the reranker).
func QualityPreservation(downstreamTop, upstreamTop float64) float64 {
	if upstreamTop <= 0 {
		if downstreamTop <= 0 {
			return 1 // nothing to preserve, nothing lost
		}
		return 0
	}
	return clamp01(downstreamTop / upstreamTop)
}

// DegradationAlert builds the alert for a quality-preservation drop, or
// returns (alert, false) when qp is within tolerance. severity = 1 - qp;
// qp < 0.2 is critical, qp < 0.5 is a warning.
func DegradationAlert(stage string, qp, previousConfidence, currentConfidence float64) (model.DegradationAlert, bool) {
	if qp >= qpWarningThreshold {
		return model.DegradationAlert{}, false
	}
	band := model.SeverityWarning
	if qp < qpCriticalThreshold {
		band = model.SeverityCritical
	}
	return model.DegradationAlert{
		Stage:              stage,
		Severity:           clamp01(1 - qp),
		SeverityBand:       band,
		PreviousConfidence: previousConfidence,
		CurrentConfidence:  currentConfidence,
		Description:        fmt.Sprintf("%s stage preserved only %.0f%% of upstream signal", stage, qp*100),
		Recommendation:     recommendationFor(band, stage),
	}, true
}

func recommendationFor(band model.DegradationSeverity, stage string) string {
	if band == model.SeverityCritical {
		return fmt.Sprintf("trust the upstream stage's score over %s; investigate %s configuration", stage, stage)
	}
	return fmt.Sprintf("monitor %s; consider a blended confidence for this request", stage)
}

// Bundle assembles the full ConfidenceBundle for a request. vectorRaw and
// keywordRaw are the native score populations observed by each search
// stage; fusionRaw is fusion's fused-score population; rerankerRaw is
// optional. vectorMissing marks that the vector stage failed and fell back
// to keyword-only (§7).
func Bundle(vectorRaw, keywordRaw, fusionRaw, rerankerRaw []float64, vectorMissing bool) model.ConfidenceBundle {
	vectorStage := StageConfidence("vector", ScoresFrom(vectorRaw, defaultTopN))

	var keywordStage *model.StageConfidence
	if keywordRaw != nil {
		ks := StageConfidence("keyword", ScoresFrom(keywordRaw, defaultTopN))
		keywordStage = &ks
	}

	fusionStage := StageConfidence("fusion", ScoresFrom(fusionRaw, defaultTopN))
	upstreamTop := vectorStage.TopScore
	if keywordStage != nil && keywordStage.TopScore > upstreamTop {
		upstreamTop = keywordStage.TopScore
	}
	qp := QualityPreservation(fusionStage.TopScore, upstreamTop)
	fusionStage.QualityPreservation = &qp

	var alerts []model.DegradationAlert
	if alert, degraded := DegradationAlert("fusion", qp, upstreamTop, fusionStage.Confidence); degraded {
		alerts = append(alerts, alert)
	}

	var rerankerStage *model.StageConfidence
	if rerankerRaw != nil {
		rs := StageConfidence("reranker", ScoresFrom(rerankerRaw, defaultTopN))
		rqp := QualityPreservation(rs.TopScore, fusionStage.TopScore)
		rs.QualityPreservation = &rqp
		if alert, degraded := DegradationAlert("reranker", rqp, fusionStage.Confidence, rs.Confidence); degraded {
			alerts = append(alerts, alert)
		}
		rerankerStage = &rs
	}

	final, strategy := finalConfidence(vectorStage, keywordStage, fusionStage, rerankerStage, alerts, qp)

	return model.ConfidenceBundle{
		Vector:             vectorStage,
		Keyword:            keywordStage,
		Fusion:             fusionStage,
		Reranker:           rerankerStage,
		Alerts:             alerts,
		FinalConfidence:    final,
		Strategy:           strategy,
		VectorStageMissing: vectorMissing,
	}
}

// finalConfidence implements the ordered rule set from §4.6.
func finalConfidence(vector model.StageConfidence, keyword *model.StageConfidence, fusion model.StageConfidence, reranker *model.StageConfidence, alerts []model.DegradationAlert, qp float64) (float64, model.FinalConfidenceStrategy) {
	upstreamTop := vector.TopScore
	if keyword != nil && keyword.TopScore > upstreamTop {
		upstreamTop = keyword.TopScore
	}

	hasCritical := false
	for _, a := range alerts {
		if a.SeverityBand == model.SeverityCritical {
			hasCritical = true
			break
		}
	}

	if hasCritical && upstreamTop >= 0.7 {
		return upstreamTop, model.StrategyTrustSource
	}

	rerankerDegraded := false
	if reranker != nil {
		for _, a := range alerts {
			if a.Stage == "reranker" {
				rerankerDegraded = true
			}
		}
		if !rerankerDegraded {
			return reranker.Confidence, model.StrategyMaxConfidence
		}
	}

	if qp >= qpWarningThreshold {
		blend := 0.6*fusion.Confidence + 0.4*upstreamTop
		return clamp01(blend), model.StrategyWeightedBlend
	}

	fallback := math.Max(vector.Confidence, fusion.Confidence)
	if keyword != nil {
		fallback = math.Max(fallback, keyword.Confidence)
	}
	return fallback, model.StrategyDegradedFallback
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
