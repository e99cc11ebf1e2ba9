package model

// FusionStrategy names one of the four fusion strategies in §4.3.
type FusionStrategy string

const (
	FusionWeightedAverage FusionStrategy = "weighted_average"
	FusionScoreWeightedRRF FusionStrategy = "score_weighted_rrf"
	FusionMaxConfidence    FusionStrategy = "max_confidence"
	FusionBordaRank        FusionStrategy = "borda_rank"
)

// FusionNormalization names the normalization applied to raw scores before
// fusion combines them.
type FusionNormalization string

const (
	NormalizeNone   FusionNormalization = "none"
	NormalizeMinMax FusionNormalization = "minmax"
	NormalizeZScore FusionNormalization = "zscore"
)

// QueryIntent is the lightweight classification the orchestrator assigns a
// query for adaptive fusion weighting (§4.3).
type QueryIntent string

const (
	IntentDefinition   QueryIntent = "definition"
	IntentMeasurement  QueryIntent = "measurement"
	IntentProcedure    QueryIntent = "procedure"
	IntentEntityLookup QueryIntent = "entity_lookup"
	IntentExploratory  QueryIntent = "exploratory"
)

// TenantFusionConfig is the per-tenant fusion configuration loaded through a
// TenantConfigStore, analogous to TenantGuardrailConfig.
type TenantFusionConfig struct {
	Strategy           FusionStrategy
	Normalization       FusionNormalization
	KParam              int
	VectorWeight        float64
	KeywordWeight       float64
	QueryAdaptiveWeights bool
	DebugTrace           bool
}

// DefaultTenantFusionConfig matches the process-wide defaults in §6.
func DefaultTenantFusionConfig() TenantFusionConfig {
	return TenantFusionConfig{
		Strategy:             FusionWeightedAverage,
		Normalization:        NormalizeMinMax,
		KParam:               5,
		VectorWeight:         0.5,
		KeywordWeight:        0.5,
		QueryAdaptiveWeights: true,
		DebugTrace:           false,
	}
}
