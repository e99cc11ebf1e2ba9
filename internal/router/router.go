package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/ragcore/internal/cache"
	"github.com/connexus-ai/ragcore/internal/handler"
	"github.com/connexus-ai/ragcore/internal/middleware"
	"github.com/connexus-ai/ragcore/internal/orchestrator"
	"github.com/connexus-ai/ragcore/internal/service"
)

// Dependencies holds all injected services needed by the router.
type Dependencies struct {
	DB                 handler.DBPinger
	AuthService        *service.AuthService
	FrontendURL        string
	Version            string
	Metrics            *middleware.Metrics
	MetricsReg         *prometheus.Registry
	InternalAuthSecret string

	// Retrieval pipeline (C1-C12)
	Orchestrator *orchestrator.Orchestrator
	QueryCache   *cache.QueryCache

	// Audit
	AuditDeps handler.AuditDeps

	// Content Gaps
	ContentGapDeps handler.ContentGapDeps

	// KB Health
	KBHealthDeps handler.KBHealthDeps

	// Admin migrations
	AdminMigrateDeps handler.AdminMigrateDeps

	// Usage metering
	UsageDeps handler.UsageDeps

	// Rate limiters (nil = no rate limiting)
	GeneralRateLimiter *middleware.RateLimiter
	AskRateLimiter     *middleware.RateLimiter
}

// internalAuthOnly wraps a handler with a simple internal auth check.
// Used for admin endpoints called by Cloud Build (no Firebase, no user context).
func internalAuthOnly(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Internal-Auth")
		if secret == "" || token != secret {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   "unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r)
	}
}

// New creates and configures the Chi router with all routes.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.FrontendURL))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	// Public routes (no auth)
	r.Get("/api/health", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	// Admin routes (internal auth only — called by Cloud Build)
	r.Post("/api/admin/migrate", internalAuthOnly(deps.InternalAuthSecret,
		handler.AdminMigrate(deps.AdminMigrateDeps)))

	// Protected routes (require internal service auth or Firebase auth)
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOrFirebaseAuth(deps.AuthService, deps.InternalAuthSecret))

		// General rate limit for all authenticated endpoints
		if deps.GeneralRateLimiter != nil {
			r.Use(middleware.RateLimit(deps.GeneralRateLimiter))
		}

		// Non-SSE routes get a 30s write timeout to prevent slow-read attacks.
		// /ask/stream (SSE) is registered separately below without the timeout.
		timeout30s := middleware.Timeout(30 * time.Second)

		// Ask — synchronous retrieval + synthesis, standard write timeout.
		r.With(timeout30s).Post("/ask", handler.Ask(deps.Orchestrator, deps.QueryCache))

		// Ask/stream — SSE streaming, NO write timeout. Stricter rate limit (10/min).
		if deps.AskRateLimiter != nil {
			r.With(middleware.RateLimit(deps.AskRateLimiter)).Post("/ask/stream", handler.AskStream(deps.Orchestrator))
		} else {
			r.Post("/ask/stream", handler.AskStream(deps.Orchestrator))
		}

		// Audit
		r.With(timeout30s).Get("/api/audit", handler.ListAudit(deps.AuditDeps))
		r.With(timeout30s).Get("/api/audit/export", handler.ExportAudit(deps.AuditDeps))

		// Content Gaps
		r.With(timeout30s).Get("/api/content-gaps", handler.ListContentGaps(deps.ContentGapDeps))
		r.With(timeout30s).Get("/api/content-gaps/summary", handler.ContentGapSummary(deps.ContentGapDeps))
		r.With(timeout30s).Patch("/api/content-gaps/{id}", handler.UpdateContentGapStatus(deps.ContentGapDeps))

		// KB Health
		r.With(timeout30s).Post("/api/vaults/{id}/health-check", handler.RunHealthCheck(deps.KBHealthDeps))
		r.With(timeout30s).Get("/api/vaults/{id}/health-checks", handler.GetHealthHistory(deps.KBHealthDeps))

		// Usage — per-tenant metering against subscription tier limits
		r.With(timeout30s).Get("/api/usage", handler.GetUsage(deps.UsageDeps))
	})

	// 404 fallback
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   "route not found",
		})
	})

	return r
}
