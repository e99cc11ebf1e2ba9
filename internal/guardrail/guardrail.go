// Package guardrail implements the answerability decision (C9): given the
// tenant's thresholds and the post-reconstruction, post-reranker candidate
// set plus its confidence bundle, decide answer vs. "I don't know". The
// canned-response shape is grounded on internal/service/silence.go's
// BuildSilenceResponse, generalized from a single scalar confidence
// threshold to the five-threshold contract this specification requires.
package guardrail

import (
	"github.com/connexus-ai/ragcore/internal/model"
)

// Decide applies a TenantGuardrailConfig to a confidence bundle and a
// candidate set's shape. All five thresholds must pass for the query to be
// answerable; the first failed check names the reason code.
func Decide(cfg model.TenantGuardrailConfig, bundle model.ConfidenceBundle, candidateCount int) model.GuardrailDecision {
	if candidateCount == 0 {
		return idk(cfg, bundle, model.ReasonNoRelevantDocs)
	}

	if bundle.Fusion.TopScore < cfg.MinTopScore {
		return idk(cfg, bundle, model.ReasonLowConfidence)
	}
	if bundle.Fusion.MeanScore < cfg.MinMeanScore {
		return idk(cfg, bundle, model.ReasonLowConfidence)
	}
	if bundle.Fusion.StdDev > cfg.MaxStdDev {
		return idk(cfg, bundle, model.ReasonDegradedFusion)
	}
	if candidateCount < cfg.MinResultCount {
		return idk(cfg, bundle, model.ReasonNoRelevantDocs)
	}
	for _, a := range bundle.Alerts {
		if a.SeverityBand == model.SeverityCritical && bundle.Strategy != model.StrategyTrustSource {
			return idk(cfg, bundle, model.ReasonDegradedFusion)
		}
	}
	if bundle.Reranker != nil {
		for _, a := range bundle.Alerts {
			if a.Stage == "reranker" && a.SeverityBand == model.SeverityCritical {
				return idk(cfg, bundle, model.ReasonRerankerReject)
			}
		}
	}
	if bundle.FinalConfidence < cfg.MinConfidence {
		return idk(cfg, bundle, model.ReasonLowConfidence)
	}

	return model.GuardrailDecision{
		IsAnswerable: true,
		Confidence:   bundle.FinalConfidence,
		Threshold:    cfg.MinConfidence,
		ReasonCode:   model.ReasonAnswerable,
	}
}

func idk(cfg model.TenantGuardrailConfig, bundle model.ConfidenceBundle, reason model.GuardrailReasonCode) model.GuardrailDecision {
	return model.GuardrailDecision{
		IsAnswerable: false,
		Confidence:   bundle.FinalConfidence,
		Threshold:    cfg.MinConfidence,
		ReasonCode:   reason,
		IDKMessage:   cfg.IDKMessage,
	}
}
