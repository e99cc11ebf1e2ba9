package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragcore/internal/cache"
	"github.com/connexus-ai/ragcore/internal/middleware"
	"github.com/connexus-ai/ragcore/internal/model"
	"github.com/connexus-ai/ragcore/internal/orchestrator"
)

// AskRequest is the POST /ask and /ask/stream request body, per §6. K is a
// pointer so an explicit "k":0 (valid — returns empty candidates and IDK)
// can be told apart from an absent field (defaults to 8).
type AskRequest struct {
	Query            string             `json:"query"`
	UserContext      askUserContext     `json:"userContext"`
	K                *int               `json:"k,omitempty"`
	DocID            string             `json:"docId,omitempty"`
	IncludeMetrics   bool               `json:"includeMetrics,omitempty"`
	IncludeDebugInfo bool               `json:"includeDebugInfo,omitempty"`
}

// defaultK is the request-level default when "k" is omitted entirely.
const defaultK = 8

// maxK is the request-level ceiling on "k", per §6.
const maxK = 50

// resolveK applies the §6 request schema's default/max to an optional k:
// nil means "not provided" (default 8); any provided value, including 0,
// is clamped to [0, 50] and passed through as-is.
func resolveK(k *int) int {
	if k == nil {
		return defaultK
	}
	v := *k
	if v < 0 {
		v = 0
	}
	if v > maxK {
		v = maxK
	}
	return v
}

type askUserContext struct {
	ID                 string   `json:"id"`
	TenantID           string   `json:"tenantId"`
	GroupIDs           []string `json:"groupIds"`
	PreferredLanguages []string `json:"preferredLanguages,omitempty"`
}

// AskResponse is the POST /ask response body, per §6.
type AskResponse struct {
	QueryID            string                    `json:"queryId"`
	Answer             string                    `json:"answer"`
	Citations          []model.SourceCitation    `json:"citations"`
	RetrievedDocuments []model.Passage           `json:"retrievedDocuments"`
	GuardrailDecision  model.GuardrailDecision   `json:"guardrailDecision"`
	Confidence         float64                   `json:"confidence"`
	Metrics            map[string]any            `json:"metrics,omitempty"`
	Debug              *orchestrator.DebugInfo   `json:"debug,omitempty"`
}

// Ask handles POST /ask: it runs the full pipeline synchronously and
// returns the assembled answer, citations, and guardrail decision. qc is
// optional; when set, a repeated (tenant, query, k) triple within its TTL
// skips the pipeline entirely.
func Ask(orch *orchestrator.Orchestrator, qc *cache.QueryCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if req.Query == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "VALIDATION_FAILED: query is required"})
			return
		}
		if req.UserContext.TenantID == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "TENANT_REQUIRED"})
			return
		}

		k := resolveK(req.K)
		if qc != nil && req.DocID == "" {
			if cached, ok := qc.Get(r.Context(), req.UserContext.TenantID, req.Query, k); ok {
				respondJSON(w, http.StatusOK, AskResponse{
					QueryID:            cached.QueryID,
					Answer:             cached.Answer,
					Citations:          cached.Citations,
					RetrievedDocuments: cached.RetrievedDocuments,
					GuardrailDecision:  cached.GuardrailDecision,
					Confidence:         cached.Confidence,
					Metrics:            cached.Metrics,
					Debug:              cached.Debug,
				})
				return
			}
		}

		q := model.RetrievalQuery{
			ID:   uuid.NewString(),
			Text: req.Query,
			User: model.UserContext{
				UserID:             req.UserContext.ID,
				TenantID:           req.UserContext.TenantID,
				GroupIDs:           req.UserContext.GroupIDs,
				PreferredLanguages: req.UserContext.PreferredLanguages,
			},
			K:              k,
			DocIDFilter:    req.DocID,
			IncludeMetrics: req.IncludeMetrics,
			Debug:          req.IncludeDebugInfo,
		}

		result, err := orch.Ask(r.Context(), q)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: err.Error()})
			return
		}

		// Only cache clean, non-doc-scoped, fully-answered results — an IDK
		// outcome or a doc-filtered query isn't worth keying on (tiny hit rate).
		if qc != nil && req.DocID == "" && result.Outcome == model.OutcomeAnswered {
			qc.Set(r.Context(), req.UserContext.TenantID, req.Query, k, &result)
		}

		respondJSON(w, http.StatusOK, AskResponse{
			QueryID:            result.QueryID,
			Answer:             result.Answer,
			Citations:          result.Citations,
			RetrievedDocuments: result.RetrievedDocuments,
			GuardrailDecision:  result.GuardrailDecision,
			Confidence:         result.Confidence,
			Metrics:            result.Metrics,
			Debug:              result.Debug,
		})
	}
}
