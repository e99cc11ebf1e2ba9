package guardrail

import (
	"testing"

	"github.com/connexus-ai/ragcore/internal/model"
)

func TestDecide_NoCandidates_NoRelevantDocs(t *testing.T) {
	cfg := model.DefaultTenantGuardrailConfig()
	d := Decide(cfg, model.ConfidenceBundle{}, 0)
	if d.IsAnswerable {
		t.Fatal("expected not answerable with zero candidates")
	}
	if d.ReasonCode != model.ReasonNoRelevantDocs {
		t.Errorf("expected NO_RELEVANT_DOCS, got %s", d.ReasonCode)
	}
}

func TestDecide_LowRelevance_IDK(t *testing.T) {
	cfg := model.DefaultTenantGuardrailConfig()
	bundle := model.ConfidenceBundle{
		Fusion:          model.StageConfidence{TopScore: 0.1, MeanScore: 0.05, StdDev: 0.05},
		FinalConfidence: 0.1,
	}
	d := Decide(cfg, bundle, 2)
	if d.IsAnswerable {
		t.Fatal("expected not answerable for low relevance")
	}
	if d.ReasonCode != model.ReasonLowConfidence {
		t.Errorf("expected LOW_CONFIDENCE, got %s", d.ReasonCode)
	}
}

func TestDecide_HighConfidence_Answerable(t *testing.T) {
	cfg := model.DefaultTenantGuardrailConfig()
	bundle := model.ConfidenceBundle{
		Fusion:          model.StageConfidence{TopScore: 0.9, MeanScore: 0.8, StdDev: 0.1},
		FinalConfidence: 0.85,
	}
	d := Decide(cfg, bundle, 5)
	if !d.IsAnswerable {
		t.Fatalf("expected answerable, got reason %s", d.ReasonCode)
	}
	if d.ReasonCode != model.ReasonAnswerable {
		t.Errorf("expected ANSWERABLE, got %s", d.ReasonCode)
	}
}

func TestDecide_CriticalDegradation_NotTrustedSource_IsIDK(t *testing.T) {
	cfg := model.DefaultTenantGuardrailConfig()
	bundle := model.ConfidenceBundle{
		Fusion:          model.StageConfidence{TopScore: 0.9, MeanScore: 0.8, StdDev: 0.1},
		FinalConfidence: 0.3,
		Strategy:        model.StrategyDegradedFallback,
		Alerts: []model.DegradationAlert{
			{Stage: "fusion", SeverityBand: model.SeverityCritical},
		},
	}
	d := Decide(cfg, bundle, 5)
	if d.IsAnswerable {
		t.Fatal("expected IDK when a critical alert isn't covered by trust_source")
	}
	if d.ReasonCode != model.ReasonDegradedFusion {
		t.Errorf("expected DEGRADED_FUSION, got %s", d.ReasonCode)
	}
}
