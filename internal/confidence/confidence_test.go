package confidence

import (
	"math"
	"testing"

	"github.com/connexus-ai/ragcore/internal/model"
)

func TestScoresFrom_TopNAndStats(t *testing.T) {
	raw := []float64{0.9, 0.1, 0.5, 0.8, 0.2, 0.95}
	s := ScoresFrom(raw, 5)
	if s.TopScore != 0.95 {
		t.Errorf("expected top score 0.95, got %v", s.TopScore)
	}
	if s.Count != len(raw) {
		t.Errorf("expected count %d, got %d", len(raw), s.Count)
	}
}

func TestScoresFrom_Empty(t *testing.T) {
	s := ScoresFrom(nil, 5)
	if s.TopScore != 0 || s.Count != 0 {
		t.Errorf("expected zero-value StageScores for empty input, got %+v", s)
	}
}

func TestStageConfidence_LowCountPenalty(t *testing.T) {
	few := StageConfidence("vector", model.StageScores{TopScore: 0.9, MeanScore: 0.9, StdDev: 0, Count: 1})
	many := StageConfidence("vector", model.StageScores{TopScore: 0.9, MeanScore: 0.9, StdDev: 0, Count: 10})
	if few.Confidence >= many.Confidence {
		t.Errorf("expected low-count penalty to reduce confidence: few=%v many=%v", few.Confidence, many.Confidence)
	}
}

func TestQualityPreservation_ClampedToUnit(t *testing.T) {
	qp := QualityPreservation(1.5, 0.5)
	if qp != 1.0 {
		t.Errorf("expected qp clamped to 1.0, got %v", qp)
	}
	qp = QualityPreservation(0, 0)
	if qp != 1.0 {
		t.Errorf("expected qp=1 when nothing to preserve, got %v", qp)
	}
}

func TestDegradationAlert_CriticalBelow0_2(t *testing.T) {
	alert, degraded := DegradationAlert("fusion", 0.01, 0.9, 0.1)
	if !degraded {
		t.Fatal("expected degradation alert for qp=0.01")
	}
	if alert.SeverityBand != model.SeverityCritical {
		t.Errorf("expected critical severity band, got %s", alert.SeverityBand)
	}
}

func TestDegradationAlert_NoneAboveThreshold(t *testing.T) {
	_, degraded := DegradationAlert("fusion", 0.9, 0.9, 0.9)
	if degraded {
		t.Error("expected no degradation alert for qp=0.9")
	}
}

func TestBundle_DegradedFusionScenario_CriticalAlert_TrustSource(t *testing.T) {
	// Scenario 2 from the end-to-end scenario table: vector top 0.88,
	// keyword top 0.35, legacy borda_rank collapses fusion top below 0.05.
	vectorRaw := []float64{0.88, 0.5, 0.4}
	keywordRaw := []float64{0.35, 0.2}
	fusionRaw := []float64{0.01, 0.008, 0.005}

	bundle := Bundle(vectorRaw, keywordRaw, fusionRaw, nil, false)

	hasCritical := false
	for _, a := range bundle.Alerts {
		if a.SeverityBand == model.SeverityCritical {
			hasCritical = true
		}
	}
	if !hasCritical {
		t.Fatal("expected a critical degradation alert")
	}
	if bundle.Strategy != model.StrategyTrustSource {
		t.Errorf("expected trust_source strategy, got %s", bundle.Strategy)
	}
	if bundle.FinalConfidence < 0.7 {
		t.Errorf("expected finalConfidence >= 0.7 (upstream topScore), got %v", bundle.FinalConfidence)
	}
}

func TestBundle_HealthyFusion_WeightedBlend(t *testing.T) {
	vectorRaw := []float64{0.85, 0.7, 0.6}
	fusionRaw := []float64{0.8, 0.65, 0.55}

	bundle := Bundle(vectorRaw, nil, fusionRaw, nil, false)
	if len(bundle.Alerts) != 0 {
		t.Errorf("expected no degradation alerts, got %+v", bundle.Alerts)
	}
	if bundle.Strategy != model.StrategyWeightedBlend {
		t.Errorf("expected weighted_blend strategy, got %s", bundle.Strategy)
	}
	if math.IsNaN(bundle.FinalConfidence) {
		t.Error("finalConfidence is NaN")
	}
}

func TestBundle_VectorStageMissingFlag(t *testing.T) {
	bundle := Bundle(nil, []float64{0.4, 0.3}, []float64{0.4, 0.3}, nil, true)
	if !bundle.VectorStageMissing {
		t.Error("expected VectorStageMissing to be carried through")
	}
}
