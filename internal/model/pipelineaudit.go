package model

import "time"

// PipelineOutcome is the terminal state of an orchestrator run.
type PipelineOutcome string

const (
	OutcomeAnswered     PipelineOutcome = "answered"
	OutcomeIDK          PipelineOutcome = "idk"
	OutcomeFailed       PipelineOutcome = "failed"
	OutcomeCancelled    PipelineOutcome = "cancelled"
	OutcomeRateLimited  PipelineOutcome = "rate_limited"
)

// PipelineAuditRecord is the single structured record emitted on terminal
// state by the orchestrator (§4.10, §3). It never carries raw passage text
// or PII — only the query hash, tenant, outcome, and timings. Distinct from
// AuditLog (audit.go), which is the persisted application-level audit row;
// this record is handed to a caller-supplied sink (e.g. that same audit
// store) rather than persisted by the core itself.
type PipelineAuditRecord struct {
	QueryID          string
	QueryHash        string
	TenantID         string
	CallerUserID     string
	Strategy         FusionStrategy
	StageTimingsMs   map[string]int64
	FinalConfidence  float64
	GuardrailDecision GuardrailReasonCode
	CitationCount    int
	Outcome          PipelineOutcome
	AccessAnomalies  int
	CreatedAt        time.Time
}
