package model

// StageScores is the raw score population a stage observed for its
// candidate set, before confidence is computed from it.
type StageScores struct {
	TopScore  float64
	MeanScore float64
	StdDev    float64
	Count     int
}

// StageConfidence is a single stage's confidence plus the raw population it
// was computed from. QualityPreservation is only meaningful for fusion and
// reranker stages (it compares against the stage(s) feeding them).
type StageConfidence struct {
	Stage               string
	TopScore            float64
	MeanScore           float64
	StdDev              float64
	Count               int
	Confidence          float64
	QualityPreservation *float64
}

// DegradationSeverity buckets an alert's severity for quick filtering.
type DegradationSeverity string

const (
	SeverityWarning  DegradationSeverity = "warning"
	SeverityCritical DegradationSeverity = "critical"
)

// DegradationAlert records that a downstream stage lost most of the signal
// present upstream. It is never synthesized by averaging — only by an
// explicit quality-preservation check (see internal/confidence).
type DegradationAlert struct {
	Stage               string
	Severity            float64
	SeverityBand        DegradationSeverity
	PreviousConfidence  float64
	CurrentConfidence   float64
	Description         string
	Recommendation      string
}

// FinalConfidenceStrategy names which rule in §4.6 produced the final
// confidence value.
type FinalConfidenceStrategy string

const (
	StrategyTrustSource     FinalConfidenceStrategy = "trust_source"
	StrategyWeightedBlend   FinalConfidenceStrategy = "weighted_blend"
	StrategyMaxConfidence   FinalConfidenceStrategy = "max_confidence"
	StrategyDegradedFallback FinalConfidenceStrategy = "degraded_fallback"
)

// ConfidenceBundle is the full per-request confidence picture: one
// StageConfidence per pipeline stage that ran, any degradation alerts
// raised along the way, and the single finalConfidence the guardrail acts
// on.
type ConfidenceBundle struct {
	Vector           StageConfidence
	Keyword          *StageConfidence
	Fusion           StageConfidence
	Reranker         *StageConfidence
	Alerts           []DegradationAlert
	FinalConfidence  float64
	Strategy         FinalConfidenceStrategy
	VectorStageMissing bool
}
