package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragcore/internal/middleware"
	"github.com/connexus-ai/ragcore/internal/model"
	"github.com/connexus-ai/ragcore/internal/orchestrator"
)

// AskStream handles POST /ask/stream: it runs the full pipeline and emits
// the §6 SSE event sequence (connection_opened, chunk*, citations, metadata,
// response_completed, done — or error, done on failure).
func AskStream(orch *orchestrator.Orchestrator) http.HandlerFunc {
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

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
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
			K:              resolveK(req.K),
			DocIDFilter:    req.DocID,
			IncludeMetrics: req.IncludeMetrics,
			Debug:          req.IncludeDebugInfo,
			Streaming:      true,
		}

		events := orch.AskStream(r.Context(), q)
		for ev := range events {
			data, err := json.Marshal(ev.Data)
			if err != nil {
				data = []byte(`{}`)
			}
			sendEvent(w, flusher, string(ev.Type), string(data))

			// The client disconnecting mid-stream cancels r.Context(); the
			// orchestrator observes that and winds down on its own, but we
			// stop writing immediately rather than buffering further events.
			select {
			case <-r.Context().Done():
				return
			default:
			}
		}
	}
}

// sendEvent writes a single SSE event in the standard format.
func sendEvent(w http.ResponseWriter, f http.Flusher, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	f.Flush()
}
