package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/connexus-ai/ragcore/internal/cache"
	"github.com/connexus-ai/ragcore/internal/config"
	"github.com/connexus-ai/ragcore/internal/gcpclient"
	"github.com/connexus-ai/ragcore/internal/handler"
	"github.com/connexus-ai/ragcore/internal/llmclient"
	"github.com/connexus-ai/ragcore/internal/middleware"
	"github.com/connexus-ai/ragcore/internal/model"
	"github.com/connexus-ai/ragcore/internal/orchestrator"
	"github.com/connexus-ai/ragcore/internal/reconstruct"
	"github.com/connexus-ai/ragcore/internal/rerank"
	"github.com/connexus-ai/ragcore/internal/repository"
	"github.com/connexus-ai/ragcore/internal/router"
	"github.com/connexus-ai/ragcore/internal/service"
)

const Version = "0.2.0"

// noopVaultLister implements service.DocumentLister for KBHealthService.
// Vault-scoped document listing has no storage backing yet (documents are
// keyed by user, not vault, in this schema); it returns no documents rather
// than leaving the dependency nil.
type noopVaultLister struct{}

func (noopVaultLister) ListByVault(ctx context.Context, vaultID string) ([]model.Document, error) {
	return nil, nil
}

// buildOrchestrator assembles the C1-C12 retrieval-and-synthesis core.
func buildOrchestrator(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, redisClient goredis.UniversalClient, usageSvc *service.UsageService) (*orchestrator.Orchestrator, *repository.TenantConfigStore, error) {
	embedAdapter, err := gcpclient.NewEmbeddingAdapter(ctx, cfg.GCPProject, cfg.EmbeddingLocation, cfg.EmbeddingModel)
	if err != nil {
		return nil, nil, fmt.Errorf("main: embedding adapter: %w", err)
	}
	embedder := llmclient.NewNormalizingEmbedder(embedAdapter, cfg.EmbeddingDimensions, true)

	vectorStore := repository.NewVectorStore(pool)
	keywordStore := repository.NewKeywordStore(pool)
	siblingStore := repository.NewSiblingStore(pool)

	tenantConfigs := repository.NewTenantConfigStore(pool)
	if err := tenantConfigs.Reload(ctx); err != nil {
		slog.Warn("main: initial tenant config reload failed, serving defaults until next reload", "error", err)
	}

	var rerankerClient *rerank.Client
	if cfg.RerankerEnabled {
		rerankerClient = rerank.NewClient(rerank.Config{
			Enabled:         cfg.RerankerEnabled,
			URL:             cfg.RerankerURL,
			Timeout:         time.Duration(cfg.RerankerTimeoutMs) * time.Millisecond,
			FallbackEnabled: cfg.RerankerFallback,
		})
	}

	var llm llmclient.Client
	if cfg.LLMEnabled {
		llm, err = llmclient.NewProvider(llmclient.Config{
			Provider:  llmclient.Provider(cfg.LLMProvider),
			Model:     cfg.LLMModel,
			Endpoint:  cfg.LLMEndpoint,
			APIKey:    cfg.LLMAPIKey,
			Streaming: cfg.LLMStreaming,
			TimeoutMs: cfg.LLMTimeoutMs,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("main: llm provider: %w", err)
		}
	}

	pipelineAudit := repository.NewPipelineAuditRepo(pool)

	var embeddingCache *cache.EmbeddingCache
	if redisClient != nil {
		embeddingCache = cache.NewEmbeddingCache(redisClient, time.Duration(cfg.EmbeddingCacheTTLSeconds)*time.Second)
	}

	orch := &orchestrator.Orchestrator{
		Embedder:          embedder,
		VectorStore:       vectorStore,
		KeywordStore:      keywordStore,
		Reranker:          rerankerClient,
		RerankerEnabled:   cfg.RerankerEnabled,
		RerankerFallback:  cfg.RerankerFallback,
		SiblingFetcher:    siblingStore,
		ReconstructConfig: reconstruct.Config{MaxSections: cfg.ReconMaxSections, MaxAdditionalParts: cfg.ReconMaxParts, MaxConcurrentReads: 4},
		LLM:               llm,
		LLMEnabled:        cfg.LLMEnabled,
		Configs:           tenantConfigs,
		Audit:             pipelineAudit,
		Timeouts: orchestrator.Timeouts{
			EmbeddingMs:    cfg.EmbeddingTimeoutMs,
			SearchMs:       cfg.SearchTimeoutMs,
			RerankerMs:     cfg.RerankerTimeoutMs,
			LLMMs:          cfg.LLMTimeoutMs,
			WholeRequestMs: cfg.WholeRequestTimeoutMs,
		},
		ContextBudget:  8000,
		EmbeddingCache: embeddingCache,
		UsageLimiter:   usageSvc,
	}

	return orch, tenantConfigs, nil
}

func newRedisClient(cfg *config.Config) goredis.UniversalClient {
	if cfg.RedisAddr == "" {
		return nil
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

// buildDependencies wires every router dependency: the C1-C12 retrieval
// core plus the surrounding audit, content-gap, KB-health, and usage-metering
// infrastructure. Document ingestion and management are out of scope (spec.md
// §1) and live with the external collaborator this module expects.
func buildDependencies(ctx context.Context, cfg *config.Config) (*router.Dependencies, func(), error) {
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("main: db pool: %w", err)
	}

	redisClient := newRedisClient(cfg)

	usageSvc := service.NewUsageService(repository.NewUsageRepo(pool))

	orch, tenantConfigs, err := buildOrchestrator(ctx, cfg, pool, redisClient, usageSvc)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	var queryCache *cache.QueryCache
	if redisClient != nil {
		queryCache = cache.New(redisClient, time.Duration(cfg.QueryCacheTTLSeconds)*time.Second)
	}

	// Periodic tenant config reload: picks up guardrail/fusion overrides
	// written to tenant_retrieval_config without restarting the process.
	reloadCtx, stopReload := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-reloadCtx.Done():
				return
			case <-ticker.C:
				if err := tenantConfigs.Reload(reloadCtx); err != nil {
					slog.Warn("main: tenant config reload failed, keeping previous snapshot", "error", err)
				}
			}
		}
	}()

	authService := service.NewAuthService(nil)
	firebaseApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FirebaseProjectID})
	if err != nil {
		slog.Warn("main: firebase app unavailable, internal-auth-only mode", "error", err)
	} else if firebaseAuthClient, err := firebaseApp.Auth(ctx); err != nil {
		slog.Warn("main: firebase auth client unavailable, internal-auth-only mode", "error", err)
	} else {
		authService = service.NewAuthService(firebaseAuthClient)
	}

	auditRepo := repository.NewAuditRepo(pool)
	contentGapRepo := repository.NewContentGapRepo(pool)
	kbHealthRepo := repository.NewKBHealthRepo(pool)

	auditSvc, err := service.NewAuditService(auditRepo, nil)
	if err != nil {
		pool.Close()
		stopReload()
		return nil, nil, fmt.Errorf("main: audit service: %w", err)
	}

	contentGapSvc := service.NewContentGapService(contentGapRepo)
	kbHealthSvc := service.NewKBHealthService(kbHealthRepo, noopVaultLister{})

	metrics := middleware.NewMetrics(prometheus.DefaultRegisterer)
	metricsReg := prometheus.NewRegistry()

	generalLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{MaxRequests: 120, Window: time.Minute})
	askLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{MaxRequests: 10, Window: time.Minute})

	deps := &router.Dependencies{
		DB:                 pool,
		AuthService:        authService,
		FrontendURL:        cfg.FrontendURL,
		Version:            Version,
		Metrics:            metrics,
		MetricsReg:         metricsReg,
		InternalAuthSecret: cfg.InternalAuthSecret,

		Orchestrator: orch,
		QueryCache:   queryCache,

		AuditDeps: handler.AuditDeps{Lister: auditRepo, Verifier: auditSvc},

		ContentGapDeps: handler.ContentGapDeps{Svc: contentGapSvc},

		KBHealthDeps: handler.KBHealthDeps{Svc: kbHealthSvc},

		AdminMigrateDeps: handler.AdminMigrateDeps{
			RunSQL:        func(ctx context.Context, sql string) error { _, err := pool.Exec(ctx, sql); return err },
			MigrationsDir: "./migrations",
		},

		UsageDeps: handler.UsageDeps{UsageSvc: usageSvc},

		GeneralRateLimiter: generalLimiter,
		AskRateLimiter:     askLimiter,
	}

	cleanup := func() {
		stopReload()
		if redisClient != nil {
			_ = redisClient.Close()
		}
		pool.Close()
	}

	return deps, cleanup, nil
}

func getPort(cfg *config.Config) string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return fmt.Sprintf("%d", cfg.Port)
}

// newRouter returns the top-level router serving /healthz. It is kept
// alongside /api/health for infra probes that don't speak the app's JSON
// envelope.
func newRouter() *chi.Mux {
	healthzRouter := chi.NewRouter()
	healthzRouter.Use(chimw.Recoverer)
	healthzRouter.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, Version)
	})
	return healthzRouter
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("main: config: %w", err)
	}

	ctx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	deps, cleanup, err := buildDependencies(ctx, cfg)
	cancelBoot()
	if err != nil {
		return fmt.Errorf("main: wiring dependencies: %w", err)
	}
	defer cleanup()

	r := router.New(deps)

	healthzRouter := newRouter()
	healthzRouter.Mount("/", r)

	port := getPort(cfg)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: healthzRouter,
		// No ReadTimeout/WriteTimeout here: /ask/stream holds its connection
		// open for the duration of synthesis, and per-route timeouts
		// (router.go's timeout30s and friends) bound the rest.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("ragcore v%s starting on port %s", Version, port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("received signal %s, shutting down gracefully", sig)
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Println("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
