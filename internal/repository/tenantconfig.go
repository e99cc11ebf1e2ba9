package repository

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragcore/internal/model"
)

// tenantConfigs is the atomically-swapped snapshot of every tenant's
// guardrail and fusion configuration, per §5's "config reload interface
// swaps the active configuration atomically between requests" contract.
type tenantConfigs struct {
	guardrail map[string]model.TenantGuardrailConfig
	fusion    map[string]model.TenantFusionConfig
}

// TenantConfigStore implements orchestrator.TenantConfigStore. It serves
// from an in-memory snapshot loaded from Postgres and refreshed via
// Reload; requests never block on a database round-trip for configuration.
type TenantConfigStore struct {
	pool     *pgxpool.Pool
	snapshot atomic.Pointer[tenantConfigs]
}

// NewTenantConfigStore creates a TenantConfigStore with an empty snapshot;
// call Reload once at startup before serving requests.
func NewTenantConfigStore(pool *pgxpool.Pool) *TenantConfigStore {
	s := &TenantConfigStore{pool: pool}
	s.snapshot.Store(&tenantConfigs{
		guardrail: map[string]model.TenantGuardrailConfig{},
		fusion:    map[string]model.TenantFusionConfig{},
	})
	return s
}

// Reload reads every tenant's configuration row and atomically swaps the
// in-memory snapshot. Safe to call concurrently with Search/in-flight
// requests — readers always see either the old or new snapshot, never a
// partially-updated one.
func (s *TenantConfigStore) Reload(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, min_confidence, min_top_score, min_mean_score, max_std_dev,
		       min_result_count, idk_message,
		       fusion_strategy, fusion_normalization, fusion_k_param,
		       hybrid_vector_weight, hybrid_keyword_weight, query_adaptive_weights, fusion_debug_trace
		FROM tenant_retrieval_config`)
	if err != nil {
		return fmt.Errorf("repository.TenantConfigStore.Reload: %w", err)
	}
	defer rows.Close()

	next := &tenantConfigs{
		guardrail: map[string]model.TenantGuardrailConfig{},
		fusion:    map[string]model.TenantFusionConfig{},
	}

	for rows.Next() {
		var tenantID string
		var g model.TenantGuardrailConfig
		var f model.TenantFusionConfig
		if err := rows.Scan(
			&tenantID, &g.MinConfidence, &g.MinTopScore, &g.MinMeanScore, &g.MaxStdDev,
			&g.MinResultCount, &g.IDKMessage,
			&f.Strategy, &f.Normalization, &f.KParam,
			&f.VectorWeight, &f.KeywordWeight, &f.QueryAdaptiveWeights, &f.DebugTrace,
		); err != nil {
			return fmt.Errorf("repository.TenantConfigStore.Reload: scan: %w", err)
		}
		next.guardrail[tenantID] = g
		next.fusion[tenantID] = f
	}

	s.snapshot.Store(next)
	return nil
}

// GuardrailConfig returns tenantID's guardrail configuration, or the
// process-wide default if the tenant has no override row.
func (s *TenantConfigStore) GuardrailConfig(ctx context.Context, tenantID string) (model.TenantGuardrailConfig, error) {
	snap := s.snapshot.Load()
	if cfg, ok := snap.guardrail[tenantID]; ok {
		return cfg, nil
	}
	return model.DefaultTenantGuardrailConfig(), nil
}

// FusionConfig returns tenantID's fusion configuration, or the
// process-wide default if the tenant has no override row.
func (s *TenantConfigStore) FusionConfig(ctx context.Context, tenantID string) (model.TenantFusionConfig, error) {
	snap := s.snapshot.Load()
	if cfg, ok := snap.fusion[tenantID]; ok {
		return cfg, nil
	}
	return model.DefaultTenantFusionConfig(), nil
}
