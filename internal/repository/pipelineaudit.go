package repository

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragcore/internal/model"
)

// PipelineAuditRepo persists the orchestrator's terminal-state audit record
// (model.PipelineAuditRecord) to a dedicated table, distinct from AuditRepo's
// application-level audit_logs. Implements orchestrator.AuditSink.
type PipelineAuditRepo struct {
	pool *pgxpool.Pool
}

// NewPipelineAuditRepo creates a PipelineAuditRepo.
func NewPipelineAuditRepo(pool *pgxpool.Pool) *PipelineAuditRepo {
	return &PipelineAuditRepo{pool: pool}
}

// Record writes rec asynchronously; a slow or unavailable audit store never
// holds up the response the record describes.
func (r *PipelineAuditRepo) Record(ctx context.Context, rec model.PipelineAuditRecord) {
	go func() {
		timings, err := json.Marshal(rec.StageTimingsMs)
		if err != nil {
			log.Printf("WARNING: pipeline audit marshal failed: %v", err)
			return
		}

		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err = r.pool.Exec(writeCtx, `
			INSERT INTO pipeline_audit (
				query_id, query_hash, tenant_id, caller_user_id, strategy,
				stage_timings_ms, final_confidence, guardrail_decision,
				citation_count, outcome, access_anomalies, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			rec.QueryID, rec.QueryHash, rec.TenantID, rec.CallerUserID, rec.Strategy,
			timings, rec.FinalConfidence, rec.GuardrailDecision,
			rec.CitationCount, rec.Outcome, rec.AccessAnomalies, rec.CreatedAt,
		)
		if err != nil {
			log.Printf("WARNING: pipeline audit write failed: %v", err)
		}
	}()
}
