package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/connexus-ai/ragcore/internal/model"
)

// Config holds all application configuration loaded from environment variables.
// It is immutable after Load() returns.
type Config struct {
	Port                int
	Environment         string
	DatabaseURL         string
	DatabaseMaxConns    int
	GCPProject          string
	GCPRegion           string
	EmbeddingLocation   string
	EmbeddingModel      string
	EmbeddingDimensions int
	BigQueryDataset     string
	BigQueryTable       string
	FirebaseProjectID   string
	FrontendURL         string
	ConfidenceThreshold float64
	SelfRAGMaxIter      int
	DefaultPersona      string
	KMSKeyRing          string
	KMSKeyName          string
	InternalAuthSecret  string

	// Fusion (C5) process-wide defaults, overridden per tenant through
	// TenantConfigStore.
	FusionStrategy       model.FusionStrategy
	FusionNormalization  model.FusionNormalization
	FusionKParam         int
	HybridVectorWeight   float64
	HybridKeywordWeight  float64
	QueryAdaptiveWeights bool
	FusionDebugTrace     bool

	// Reranker (C6).
	RerankerEnabled    bool
	RerankerURL        string
	RerankerTimeoutMs  int
	RerankerFallback   bool

	// LLM synthesis (C11).
	LLMEnabled    bool
	LLMProvider   string
	LLMModel      string
	LLMEndpoint   string
	LLMAPIKey     string
	LLMStreaming  bool
	LLMTimeoutMs  int

	// Redis-backed embedding/query caches.
	RedisAddr          string
	RedisPassword      string
	EmbeddingCacheTTLSeconds int
	QueryCacheTTLSeconds     int

	// Answerability guardrail (C9) and confidence (C8) process-wide defaults.
	AnswerabilityThreshold     float64
	ConfidenceCalculationMethod string

	// Section reconstruction (C7) bounds.
	ReconMaxSections int
	ReconMaxParts    int

	// Timeouts (§5), in milliseconds.
	EmbeddingTimeoutMs   int
	SearchTimeoutMs      int
	WholeRequestTimeoutMs int
	CancellationGraceMs  int
}

// Load reads configuration from environment variables.
// Required variables (DATABASE_URL, GOOGLE_CLOUD_PROJECT) cause an error if missing.
// Optional variables use sensible defaults.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	gcpProject := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if gcpProject == "" {
		return nil, fmt.Errorf("config.Load: GOOGLE_CLOUD_PROJECT is required")
	}

	cfg := &Config{
		Port:                envInt("PORT", 8080),
		Environment:         envStr("ENVIRONMENT", "development"),
		DatabaseURL:         dbURL,
		DatabaseMaxConns:    envInt("DATABASE_MAX_CONNS", 25),
		GCPProject:          gcpProject,
		GCPRegion:           envStr("GCP_REGION", "us-east4"),
		EmbeddingLocation:   envStr("VERTEX_AI_EMBEDDING_LOCATION", envStr("GCP_REGION", "us-east4")),
		EmbeddingModel:      envStr("VERTEX_AI_EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 768),
		BigQueryDataset:     envStr("BIGQUERY_DATASET", "ragbox_audit"),
		BigQueryTable:       envStr("BIGQUERY_TABLE", "audit_events"),
		FirebaseProjectID:   envStr("FIREBASE_PROJECT_ID", ""),
		FrontendURL:         envStr("FRONTEND_URL", "http://localhost:3000"),
		ConfidenceThreshold: envFloat("CONFIDENCE_THRESHOLD", 0.85),
		SelfRAGMaxIter:      envInt("SELF_RAG_MAX_ITERATIONS", 3),
		DefaultPersona:      envStr("DEFAULT_PERSONA", "persona_cfo"),
		KMSKeyRing:          envStr("KMS_KEY_RING", "ragbox-keys"),
		KMSKeyName:          envStr("KMS_KEY_NAME", "document-key"),
		InternalAuthSecret:  envStr("INTERNAL_AUTH_SECRET", ""),

		FusionStrategy:       model.FusionStrategy(envStr("FUSION_STRATEGY", string(model.FusionWeightedAverage))),
		FusionNormalization:  model.FusionNormalization(envStr("FUSION_NORMALIZATION", string(model.NormalizeMinMax))),
		FusionKParam:         envInt("FUSION_K_PARAM", 5),
		HybridVectorWeight:   envFloat("HYBRID_VECTOR_WEIGHT", 0.5),
		HybridKeywordWeight:  envFloat("HYBRID_KEYWORD_WEIGHT", 0.5),
		QueryAdaptiveWeights: envBool("QUERY_ADAPTIVE_WEIGHTS", true),
		FusionDebugTrace:     envBool("FUSION_DEBUG_TRACE", false),

		RerankerEnabled:   envBool("RERANKER_ENABLED", false),
		RerankerURL:       envStr("RERANKER_URL", ""),
		RerankerTimeoutMs: envInt("RERANKER_TIMEOUT_MS", 5000),
		RerankerFallback:  envBool("RERANKER_FALLBACK_ENABLED", true),

		LLMEnabled:   envBool("LLM_ENABLED", true),
		LLMProvider:  envStr("LLM_PROVIDER", "openai"),
		LLMModel:     envStr("LLM_MODEL", "gpt-4o-mini"),
		LLMEndpoint:  envStr("LLM_ENDPOINT", ""),
		LLMAPIKey:    envStr("LLM_API_KEY", ""),
		LLMStreaming: envBool("LLM_STREAMING", true),
		LLMTimeoutMs: envInt("LLM_TIMEOUT_MS", 20000),

		RedisAddr:                envStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:            envStr("REDIS_PASSWORD", ""),
		EmbeddingCacheTTLSeconds: envInt("EMBEDDING_CACHE_TTL_SECONDS", 3600),
		QueryCacheTTLSeconds:     envInt("QUERY_CACHE_TTL_SECONDS", 300),

		AnswerabilityThreshold:      envFloat("ANSWERABILITY_THRESHOLD", 0.60),
		ConfidenceCalculationMethod: envStr("CONFIDENCE_CALCULATION_METHOD", "source_aware"),

		ReconMaxSections: envInt("RECON_MAX_SECTIONS", 10),
		ReconMaxParts:    envInt("RECON_MAX_PARTS", 20),

		EmbeddingTimeoutMs:    envInt("EMBEDDING_TIMEOUT_MS", 3000),
		SearchTimeoutMs:       envInt("SEARCH_TIMEOUT_MS", 2000),
		WholeRequestTimeoutMs: envInt("WHOLE_REQUEST_TIMEOUT_MS", 30000),
		CancellationGraceMs:   envInt("CANCELLATION_GRACE_MS", 250),
	}

	// Internal auth secret is required in non-development environments
	if cfg.Environment != "development" && cfg.InternalAuthSecret == "" {
		return nil, fmt.Errorf("config.Load: INTERNAL_AUTH_SECRET is required in %s environment", cfg.Environment)
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
