// Package orchestrator drives the end-to-end request state machine (C12):
// RECEIVED -> EMBEDDING -> SEARCH -> FUSION -> [RERANK] -> RECONSTRUCT ->
// CONFIDENCE -> GUARDRAIL -> (ANSWERABLE|IDK) -> (PACK -> SYNTH_STREAMING)
// -> DONE. The concurrent vector+keyword fan-out and the
// embedding/cache-check pairing are grounded on the teacher's errgroup
// usage in internal/handler/chat.go and internal/service/retriever.go;
// the event sequence itself is new, driven by §6 rather than the
// teacher's status/token/silence/confidence/low_confidence/metadata/done
// sequence.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/connexus-ai/ragcore/internal/accessfilter"
	"github.com/connexus-ai/ragcore/internal/confidence"
	"github.com/connexus-ai/ragcore/internal/contextpack"
	"github.com/connexus-ai/ragcore/internal/fusion"
	"github.com/connexus-ai/ragcore/internal/guardrail"
	"github.com/connexus-ai/ragcore/internal/llmclient"
	"github.com/connexus-ai/ragcore/internal/model"
	"github.com/connexus-ai/ragcore/internal/reconstruct"
	"github.com/connexus-ai/ragcore/internal/rerank"
	"github.com/connexus-ai/ragcore/internal/synthesis"
	"golang.org/x/sync/errgroup"
)

// State names a node in the per-request state machine, surfaced only in
// logs and the audit record — never in client-facing events, which use
// the §6 event vocabulary instead.
type State string

const (
	StateReceived     State = "RECEIVED"
	StateEmbedding    State = "EMBEDDING"
	StateSearch       State = "SEARCH"
	StateFusion       State = "FUSION"
	StateRerank       State = "RERANK"
	StateReconstruct  State = "RECONSTRUCT"
	StateConfidence   State = "CONFIDENCE"
	StateGuardrail    State = "GUARDRAIL"
	StatePack         State = "PACK"
	StateSynthesizing State = "SYNTH_STREAMING"
	StateDone         State = "DONE"
	StateCancelled    State = "CANCELLED"
	StateFailed       State = "FAILED"
)

// Embedder is the collaborator contract for C1.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorSearcher is the collaborator contract for C2.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, limit int, filter *accessfilter.Filter) ([]model.Passage, error)
}

// KeywordSearcher is the collaborator contract for C3.
type KeywordSearcher interface {
	Search(ctx context.Context, queryText string, limit int, filter *accessfilter.Filter) ([]model.Passage, error)
}

// TenantConfigStore resolves per-tenant guardrail and fusion configuration.
type TenantConfigStore interface {
	GuardrailConfig(ctx context.Context, tenantID string) (model.TenantGuardrailConfig, error)
	FusionConfig(ctx context.Context, tenantID string) (model.TenantFusionConfig, error)
}

// AuditSink receives the single terminal-state audit record per request.
type AuditSink interface {
	Record(ctx context.Context, rec model.PipelineAuditRecord)
}

// EmbeddingCache lets the orchestrator skip an embedding-provider round trip
// for a repeated query within a tenant. Satisfied by *cache.EmbeddingCache;
// defined here (consumer side) rather than imported, since cache also
// depends on this package for Result.
type EmbeddingCache interface {
	Get(ctx context.Context, tenantID, queryHash string) ([]float32, bool)
	Set(ctx context.Context, tenantID, queryHash string, vec []float32)
}

// Timeouts bounds each suspension point per §5. Zero fields fall back to
// the stated defaults.
type Timeouts struct {
	EmbeddingMs    int
	SearchMs       int
	RerankerMs     int
	LLMMs          int
	WholeRequestMs int
}

func (t Timeouts) embedding() time.Duration {
	return durationOr(t.EmbeddingMs, 3*time.Second)
}
func (t Timeouts) search() time.Duration {
	return durationOr(t.SearchMs, 2*time.Second)
}
func (t Timeouts) reranker() time.Duration {
	return durationOr(t.RerankerMs, 5*time.Second)
}
func (t Timeouts) llm() time.Duration {
	return durationOr(t.LLMMs, 20*time.Second)
}
func (t Timeouts) wholeRequest() time.Duration {
	return durationOr(t.WholeRequestMs, 30*time.Second)
}

func durationOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// Orchestrator wires C1-C11 into the C12 state machine.
type Orchestrator struct {
	Embedder          Embedder
	VectorStore       VectorSearcher
	KeywordStore      KeywordSearcher
	Reranker          *rerank.Client
	RerankerEnabled   bool
	RerankerFallback  bool
	SiblingFetcher    reconstruct.SiblingFetcher
	ReconstructConfig reconstruct.Config
	LLM               llmclient.Client
	LLMEnabled        bool
	Configs           TenantConfigStore
	Audit             AuditSink
	Timeouts          Timeouts
	ContextBudget     int

	// EmbeddingCache is optional; when set, a repeated query within a
	// tenant skips the embedding-provider round trip.
	EmbeddingCache EmbeddingCache

	// UsageLimiter is optional; when set, a query is rejected before
	// retrieval starts if the caller's tier has exhausted its query
	// allowance for the billing period.
	UsageLimiter UsageLimiter
}

// UsageLimiter gates a query against the caller's subscription tier before
// the expensive retrieval-and-synthesis stages run. Satisfied by
// *service.UsageService; defined here (consumer side) since service already
// imports nothing from orchestrator but keeping the dependency narrow and
// request-shaped avoids pulling the whole service package in.
type UsageLimiter interface {
	CheckLimit(ctx context.Context, userID, metric, tier string) (allowed bool, count int64, limit int64, err error)
	IncrementUsage(ctx context.Context, userID, metric string) error
}

const usageMetricQueries = "aegis_queries"

// maxRetrievalK is the §6 request schema's ceiling on "k".
const maxRetrievalK = 50

// Result is the orchestrator's output for the non-streaming /ask endpoint.
type Result struct {
	QueryID            string
	Answer             string
	Citations          []model.SourceCitation
	RetrievedDocuments []model.Passage
	GuardrailDecision  model.GuardrailDecision
	Confidence         float64
	Metrics            map[string]any
	Debug              *DebugInfo
	Outcome            model.PipelineOutcome
}

// DebugInfo is populated only when the request opts in (includeDebugInfo),
// carrying the per-stage fusion trace and timings a caller would otherwise
// have no way to see.
type DebugInfo struct {
	FusionStrategy  model.FusionStrategy `json:"fusionStrategy"`
	StageTimingsMs  map[string]int64     `json:"stageTimingsMs"`
	VectorMissing   bool                 `json:"vectorMissing"`
	AccessAnomalies int                  `json:"accessAnomalies"`
}

// EventType names one of the wire-level SSE event types in §6.
type EventType string

const (
	EventConnectionOpened  EventType = "connection_opened"
	EventChunk             EventType = "chunk"
	EventCitations         EventType = "citations"
	EventMetadata          EventType = "metadata"
	EventResponseCompleted EventType = "response_completed"
	EventError             EventType = "error"
	EventDone              EventType = "done"
)

// Event is a single emission on the streaming channel; Data marshals
// directly to the event's JSON payload.
type Event struct {
	Type EventType
	Data any
}

type connectionOpenedPayload struct {
	QueryID string `json:"queryId"`
}

type chunkPayload struct {
	Text string `json:"text"`
}

type metadataPayload struct {
	SynthesisTime      int64   `json:"synthesisTime"`
	TokensUsed         int     `json:"tokensUsed"`
	Confidence         float64 `json:"confidence"`
	ModelUsed          string  `json:"modelUsed"`
	RetrievedDocuments int     `json:"retrievedDocuments"`
}

type responseCompletedSummary struct {
	TotalChunks      int                    `json:"totalChunks"`
	TotalTokens      int                    `json:"totalTokens"`
	ResponseTime     int64                  `json:"responseTime"`
	Success          bool                   `json:"success"`
	CompletionReason model.CompletionReason `json:"completionReason"`
}

type responseCompletedPayload struct {
	Summary responseCompletedSummary `json:"summary"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// pipelineOutput is the shared intermediate result of everything before
// packing and synthesis, common to both entrypoints.
type pipelineOutput struct {
	candidates        []model.Passage
	confidenceBundle  model.ConfidenceBundle
	guardrailDecision model.GuardrailDecision
	fusionStrategy    model.FusionStrategy
	vectorMissing     bool
	stageTimings      map[string]int64
	accessAnomalies   int
}

// Ask runs the full pipeline and returns the assembled non-streaming
// response, per §6's /ask contract.
func (o *Orchestrator) Ask(ctx context.Context, q model.RetrievalQuery) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.Timeouts.wholeRequest())
	defer cancel()

	if blocked, result := o.checkUsageLimit(ctx, q); blocked {
		return result, nil
	}

	out, err := o.runPipeline(ctx, q)
	if err != nil {
		o.audit(ctx, q, out, model.OutcomeFailed, 0)
		return Result{}, fmt.Errorf("orchestrator.Ask: %w", err)
	}

	if !out.guardrailDecision.IsAnswerable {
		o.audit(ctx, q, out, model.OutcomeIDK, 0)
		return Result{
			QueryID:            q.ID,
			Answer:             out.guardrailDecision.IDKMessage,
			RetrievedDocuments: out.candidates,
			GuardrailDecision:  out.guardrailDecision,
			Confidence:         out.confidenceBundle.FinalConfidence,
			Metrics:            o.metricsFor(q, out),
			Debug:              o.debugFor(q, out),
			Outcome:            model.OutcomeIDK,
		}, nil
	}

	pack := contextpack.Pack(out.candidates, o.budget())
	synthResult := o.synthesizeNonStreaming(ctx, q.Text, pack)

	o.audit(ctx, q, out, model.OutcomeAnswered, len(synthResult.Citations))
	o.recordUsage(ctx, q)

	return Result{
		QueryID:            q.ID,
		Answer:             synthResult.Answer,
		Citations:          synthResult.Citations,
		RetrievedDocuments: out.candidates,
		GuardrailDecision:  out.guardrailDecision,
		Confidence:         out.confidenceBundle.FinalConfidence,
		Metrics:            o.metricsFor(q, out),
		Debug:              o.debugFor(q, out),
		Outcome:            model.OutcomeAnswered,
	}, nil
}

// checkUsageLimit reports whether q should be rejected before retrieval
// starts because the caller's tier has exhausted its query allowance. When
// blocked, it returns the terminal Result to hand back to the caller.
func (o *Orchestrator) checkUsageLimit(ctx context.Context, q model.RetrievalQuery) (bool, Result) {
	if o.UsageLimiter == nil {
		return false, Result{}
	}

	tier := q.User.Tier
	if tier == "" {
		tier = "free"
	}

	allowed, count, limit, err := o.UsageLimiter.CheckLimit(ctx, q.User.UserID, usageMetricQueries, tier)
	if err != nil {
		// A usage-store outage should never block an otherwise-servable query.
		return false, Result{}
	}
	if allowed {
		return false, Result{}
	}

	o.audit(ctx, q, pipelineOutput{}, model.OutcomeRateLimited, 0)
	return true, Result{
		QueryID: q.ID,
		Metrics: map[string]any{"usageCount": count, "usageLimit": limit},
		Outcome: model.OutcomeRateLimited,
	}
}

// recordUsage fires the post-answer usage increment without blocking the
// response; a usage-store failure only loses a counter tick, never the
// caller's answer.
func (o *Orchestrator) recordUsage(ctx context.Context, q model.RetrievalQuery) {
	if o.UsageLimiter == nil {
		return
	}
	if err := o.UsageLimiter.IncrementUsage(context.WithoutCancel(ctx), q.User.UserID, usageMetricQueries); err != nil {
		slog.Warn("orchestrator: usage increment failed", "error", err, "user_id", q.User.UserID)
	}
}

// metricsFor returns the per-stage timing summary when the caller asked for
// it via RetrievalQuery.IncludeMetrics, else nil.
func (o *Orchestrator) metricsFor(q model.RetrievalQuery, out pipelineOutput) map[string]any {
	if !q.IncludeMetrics {
		return nil
	}
	m := make(map[string]any, len(out.stageTimings)+1)
	for stage, ms := range out.stageTimings {
		m[stage+"Ms"] = ms
	}
	m["candidateCount"] = len(out.candidates)
	return m
}

// debugFor returns the fusion/anomaly trace when the caller asked for it via
// RetrievalQuery.Debug, else nil.
func (o *Orchestrator) debugFor(q model.RetrievalQuery, out pipelineOutput) *DebugInfo {
	if !q.Debug {
		return nil
	}
	return &DebugInfo{
		FusionStrategy:  out.fusionStrategy,
		StageTimingsMs:  out.stageTimings,
		VectorMissing:   out.vectorMissing,
		AccessAnomalies: out.accessAnomalies,
	}
}

// AskStream runs the full pipeline and emits events on the returned
// channel per §6's /ask/stream contract. The channel is closed once
// "done" has been sent or the request is cancelled.
func (o *Orchestrator) AskStream(ctx context.Context, q model.RetrievalQuery) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		ctx, cancel := context.WithTimeout(ctx, o.Timeouts.wholeRequest())
		defer cancel()

		events <- Event{Type: EventConnectionOpened, Data: connectionOpenedPayload{QueryID: q.ID}}

		if blocked, _ := o.checkUsageLimit(ctx, q); blocked {
			events <- Event{Type: EventError, Data: errorPayload{Message: "usage limit exceeded", Code: "USAGE_LIMIT_EXCEEDED"}}
			events <- Event{Type: EventDone, Data: struct{}{}}
			return
		}

		out, err := o.runPipeline(ctx, q)
		if err != nil {
			o.emitFailure(ctx, events, q, out, err)
			return
		}

		if !out.guardrailDecision.IsAnswerable {
			o.streamCannedAnswer(ctx, events, q, out)
			return
		}

		pack := contextpack.Pack(out.candidates, o.budget())
		o.streamSynthesis(ctx, events, q, out, pack)
	}()

	return events
}

func (o *Orchestrator) emitFailure(ctx context.Context, events chan<- Event, q model.RetrievalQuery, out pipelineOutput, err error) {
	if ctx.Err() != nil {
		o.audit(ctx, q, out, model.OutcomeCancelled, 0)
		return
	}
	events <- Event{Type: EventError, Data: errorPayload{Message: err.Error(), Code: "INVARIANT_VIOLATION"}}
	events <- Event{Type: EventDone, Data: struct{}{}}
	o.audit(ctx, q, out, model.OutcomeFailed, 0)
}

func (o *Orchestrator) streamCannedAnswer(ctx context.Context, events chan<- Event, q model.RetrievalQuery, out pipelineOutput) {
	events <- Event{Type: EventChunk, Data: chunkPayload{Text: out.guardrailDecision.IDKMessage}}
	events <- Event{Type: EventCitations, Data: map[string]model.SourceCitation{}}
	events <- Event{Type: EventMetadata, Data: metadataPayload{
		Confidence:         out.confidenceBundle.FinalConfidence,
		RetrievedDocuments: len(out.candidates),
	}}
	events <- Event{Type: EventResponseCompleted, Data: responseCompletedPayload{Summary: responseCompletedSummary{
		TotalChunks:      len(out.candidates),
		Success:          true,
		CompletionReason: model.CompletionIDK,
	}}}
	events <- Event{Type: EventDone, Data: struct{}{}}
	o.audit(ctx, q, out, model.OutcomeIDK, 0)
}

func (o *Orchestrator) streamSynthesis(ctx context.Context, events chan<- Event, q model.RetrievalQuery, out pipelineOutput, pack model.ContextPack) {
	start := time.Now()

	if !o.LLMEnabled || o.LLM == nil || !o.LLM.SupportsStreaming() {
		result := synthesis.Fallback(pack)
		o.emitFinalEvents(ctx, events, out, result, start)
		o.audit(ctx, q, out, model.OutcomeAnswered, len(result.Citations))
		o.recordUsage(ctx, q)
		return
	}

	systemPrompt, userPrompt := synthesis.BuildPrompt(q.Text, pack)
	llmCtx, cancel := context.WithTimeout(ctx, o.Timeouts.llm())
	defer cancel()

	stream, err := o.LLM.Stream(llmCtx, systemPrompt, userPrompt, 1024)
	if err != nil {
		result := synthesis.Fallback(pack)
		o.emitFinalEvents(ctx, events, out, result, start)
		o.audit(ctx, q, out, model.OutcomeAnswered, len(result.Citations))
		o.recordUsage(ctx, q)
		return
	}

	var answer string
	var totalTokens int
	var modelName string
	reason := model.CompletionStop

	for ev := range stream {
		if ctx.Err() != nil {
			return
		}
		switch ev.Type {
		case model.StreamChunk:
			answer += ev.Text
			events <- Event{Type: EventChunk, Data: chunkPayload{Text: ev.Text}}
		case model.StreamCompletion:
			totalTokens = ev.TotalTokens
			modelName = ev.Model
			if ev.FinishReason == "length" {
				reason = model.CompletionLength
			}
		case model.StreamError:
			slog.Error("orchestrator.streamSynthesis: llm stream error", "query_id", q.ID, "error", ev.Err)
		}
	}

	var result model.SynthesisResult
	if answer == "" {
		result = synthesis.Fallback(pack)
	} else {
		result = synthesis.Finalize(answer, pack, totalTokens, modelName, time.Since(start).Milliseconds(), reason)
	}

	o.emitFinalEvents(ctx, events, out, result, start)
	o.audit(ctx, q, out, model.OutcomeAnswered, len(result.Citations))
	o.recordUsage(ctx, q)
}

func (o *Orchestrator) emitFinalEvents(ctx context.Context, events chan<- Event, out pipelineOutput, result model.SynthesisResult, start time.Time) {
	if result.FallbackUsed {
		events <- Event{Type: EventChunk, Data: chunkPayload{Text: result.Answer}}
	}

	citationsByMarker := make(map[string]model.SourceCitation, len(result.Citations))
	for i, c := range result.Citations {
		citationsByMarker[fmt.Sprintf("%d", i+1)] = c
	}
	events <- Event{Type: EventCitations, Data: citationsByMarker}

	events <- Event{Type: EventMetadata, Data: metadataPayload{
		SynthesisTime:      time.Since(start).Milliseconds(),
		TokensUsed:         result.TotalTokens,
		Confidence:         out.confidenceBundle.FinalConfidence,
		ModelUsed:          result.Model,
		RetrievedDocuments: len(out.candidates),
	}}

	events <- Event{Type: EventResponseCompleted, Data: responseCompletedPayload{Summary: responseCompletedSummary{
		TotalChunks:      len(out.candidates),
		TotalTokens:       result.TotalTokens,
		ResponseTime:      time.Since(start).Milliseconds(),
		Success:           result.Success,
		CompletionReason:  result.CompletionReason,
	}}}

	events <- Event{Type: EventDone, Data: struct{}{}}
}

// synthesizeNonStreaming drives the LLM in Generate mode for /ask, falling
// back to the degraded fallback answer on failure (§7: LLM failure ->
// degraded synthesis with fallbackUsed=true).
func (o *Orchestrator) synthesizeNonStreaming(ctx context.Context, queryText string, pack model.ContextPack) model.SynthesisResult {
	if !o.LLMEnabled || o.LLM == nil {
		return synthesis.Fallback(pack)
	}

	start := time.Now()
	systemPrompt, userPrompt := synthesis.BuildPrompt(queryText, pack)
	llmCtx, cancel := context.WithTimeout(ctx, o.Timeouts.llm())
	defer cancel()

	ev, err := o.LLM.Generate(llmCtx, systemPrompt, userPrompt, 1024)
	if err != nil {
		slog.Error("orchestrator.synthesizeNonStreaming: llm generate failed", "error", err)
		return synthesis.Fallback(pack)
	}
	return synthesis.Finalize(ev.Text, pack, ev.TotalTokens, ev.Model, time.Since(start).Milliseconds(), model.CompletionStop)
}

// runPipeline executes EMBEDDING through GUARDRAIL, shared by both
// entrypoints.
func (o *Orchestrator) runPipeline(ctx context.Context, q model.RetrievalQuery) (pipelineOutput, error) {
	timings := make(map[string]int64)
	// k=0 is a valid request (§8 boundary behavior: returns empty
	// candidates and IDK, not the default) — only negative/oversized
	// values are clamped. Resolving an absent "k" to the default 8 is the
	// request layer's job (handler.resolveK), not this layer's.
	k := q.K
	if k < 0 {
		k = 0
	}
	if k > maxRetrievalK {
		k = maxRetrievalK
	}

	guardrailCfg, fusionCfg, err := o.loadTenantConfigs(ctx, q.User.TenantID)
	if err != nil {
		return pipelineOutput{stageTimings: timings}, err
	}

	filter := accessfilter.Build(q)

	tEmbed := time.Now()
	queryHash := embeddingQueryHash(q.Text)
	var vectors [][]float32
	var embedErr error
	cached := false
	if o.EmbeddingCache != nil {
		if vec, ok := o.EmbeddingCache.Get(ctx, q.User.TenantID, queryHash); ok {
			vectors = [][]float32{vec}
			cached = true
		}
	}
	if !cached {
		embedCtx, cancel := context.WithTimeout(ctx, o.Timeouts.embedding())
		vectors, embedErr = o.Embedder.Embed(embedCtx, []string{q.Text})
		cancel()
		if embedErr == nil && o.EmbeddingCache != nil && len(vectors) > 0 {
			o.EmbeddingCache.Set(ctx, q.User.TenantID, queryHash, vectors[0])
		}
	}
	timings["embedding"] = time.Since(tEmbed).Milliseconds()

	vectorMissing := embedErr != nil
	if embedErr != nil {
		slog.Warn("orchestrator.runPipeline: embedding failed, falling back to keyword-only", "error", embedErr)
	}

	tSearch := time.Now()
	vectorResults, keywordResults, searchErr := o.search(ctx, q, vectors, vectorMissing, filter, k)
	timings["search"] = time.Since(tSearch).Milliseconds()
	if searchErr != nil {
		return pipelineOutput{stageTimings: timings}, searchErr
	}
	if len(vectorResults) == 0 && len(keywordResults) == 0 {
		bundle := confidence.Bundle(nil, nil, nil, nil, vectorMissing)
		decision := guardrail.Decide(guardrailCfg, bundle, 0)
		return pipelineOutput{
			confidenceBundle:  bundle,
			guardrailDecision: decision,
			fusionStrategy:    fusionCfg.Strategy,
			vectorMissing:     vectorMissing,
			stageTimings:      timings,
		}, nil
	}

	weights := fusion.Weights{Vector: fusionCfg.VectorWeight, Keyword: fusionCfg.KeywordWeight}
	strategy := fusionCfg.Strategy
	if fusionCfg.QueryAdaptiveWeights {
		intent := fusion.ClassifyIntent(q.Text, fusion.DefaultIntentKeywords())
		weights, strategy = fusion.WeightsForIntent(intent)

		topVectorScore := fusion.TopNormalizedVectorScore(vectorResults, fusionCfg.Normalization)
		if fusion.ShouldUpgradeToMaxConfidence(intent, topVectorScore) {
			strategy = model.FusionMaxConfidence
		}
	}
	runCfg := fusionCfg
	runCfg.Strategy = strategy

	tFusion := time.Now()
	fused := fusion.Fuse(fusion.Input{Vector: vectorResults, Keyword: keywordResults}, runCfg, weights, k)
	timings["fusion"] = time.Since(tFusion).Milliseconds()

	candidates := make([]model.Passage, 0, len(fused))
	fusionRaw := make([]float64, 0, len(fused))
	for _, r := range fused {
		p := r.Passage
		score := r.FusedScore
		p.FusedScore = &score
		p.FinalScore = score
		p.SearchType = model.SearchHybrid
		candidates = append(candidates, p)
		fusionRaw = append(fusionRaw, r.FusedScore)
	}

	var rerankerRaw []float64
	if o.RerankerEnabled && o.Reranker != nil && len(candidates) > 0 {
		tRerank := time.Now()
		reranked, rerankErr := o.applyReranker(ctx, q.Text, candidates)
		timings["reranker"] = time.Since(tRerank).Milliseconds()
		if rerankErr != nil {
			if !o.RerankerFallback {
				return pipelineOutput{stageTimings: timings}, rerankErr
			}
			slog.Warn("orchestrator.runPipeline: reranker failed, bypassing", "error", rerankErr)
		} else {
			candidates = reranked
			rerankerRaw = make([]float64, len(reranked))
			for i, p := range reranked {
				rerankerRaw[i] = p.FinalScore
			}
		}
	}

	if o.SiblingFetcher != nil {
		tRecon := time.Now()
		synthetics, reconErr := reconstruct.Reconstruct(ctx, candidates, o.SiblingFetcher, o.ReconstructConfig)
		timings["reconstruct"] = time.Since(tRecon).Milliseconds()
		if reconErr == nil && len(synthetics) > 0 {
			candidates = append(candidates, synthetics...)
		}
	}

	candidates, anomalies := filterAccessAnomalies(candidates, q.User)
	if anomalies > 0 {
		slog.Warn("orchestrator.runPipeline: access anomalies dropped", "count", anomalies, "query_id", q.ID)
	}

	vectorRaw := scoresOf(vectorResults, func(c fusion.Candidate) *float64 { return c.VectorScore })
	keywordRaw := scoresOf(keywordResults, func(c fusion.Candidate) *float64 { return c.KeywordScore })

	tConfidence := time.Now()
	bundle := confidence.Bundle(vectorRaw, keywordRaw, fusionRaw, rerankerRaw, vectorMissing)
	timings["confidence"] = time.Since(tConfidence).Milliseconds()

	decision := guardrail.Decide(guardrailCfg, bundle, len(candidates))

	return pipelineOutput{
		candidates:        candidates,
		confidenceBundle:  bundle,
		guardrailDecision: decision,
		fusionStrategy:    strategy,
		vectorMissing:     vectorMissing,
		stageTimings:      timings,
		accessAnomalies:   anomalies,
	}, nil
}

func (o *Orchestrator) search(ctx context.Context, q model.RetrievalQuery, vectors [][]float32, vectorMissing bool, filter *accessfilter.Filter, k int) ([]fusion.Candidate, []fusion.Candidate, error) {
	searchCtx, cancel := context.WithTimeout(ctx, o.Timeouts.search())
	defer cancel()

	var vectorPassages, keywordPassages []model.Passage
	g, gCtx := errgroup.WithContext(searchCtx)

	if !vectorMissing {
		g.Go(func() error {
			res, err := o.VectorStore.Search(gCtx, vectors[0], k, filter)
			if err != nil {
				return fmt.Errorf("vector search: %w", err)
			}
			vectorPassages = res
			return nil
		})
	}
	g.Go(func() error {
		res, err := o.KeywordStore.Search(gCtx, q.Text, k, filter)
		if err != nil {
			return fmt.Errorf("keyword search: %w", err)
		}
		keywordPassages = res
		return nil
	})

	if err := g.Wait(); err != nil {
		if vectorMissing {
			return nil, nil, err
		}
		// one of the two failed; fall back to whichever succeeded, per §7.
		if len(vectorPassages) == 0 && len(keywordPassages) == 0 {
			return nil, nil, err
		}
	}

	return toCandidates(vectorPassages, true), toCandidates(keywordPassages, false), nil
}

func toCandidates(passages []model.Passage, isVector bool) []fusion.Candidate {
	out := make([]fusion.Candidate, 0, len(passages))
	for _, p := range passages {
		c := fusion.Candidate{Passage: p}
		score := p.FinalScore
		if isVector {
			c.VectorScore = &score
		} else {
			c.KeywordScore = &score
		}
		out = append(out, c)
	}
	return out
}

func scoresOf(cands []fusion.Candidate, pick func(fusion.Candidate) *float64) []float64 {
	out := make([]float64, 0, len(cands))
	for _, c := range cands {
		if v := pick(c); v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func (o *Orchestrator) applyReranker(ctx context.Context, query string, candidates []model.Passage) ([]model.Passage, error) {
	rerankCtx, cancel := context.WithTimeout(ctx, o.Timeouts.reranker())
	defer cancel()

	// Only the top maxRerankPassages fused candidates are reranked; the
	// reranked result holds those passages only.
	const maxRerankPassages = 20
	if len(candidates) > maxRerankPassages {
		candidates = candidates[:maxRerankPassages]
	}

	passages := make([]rerank.Passage, len(candidates))
	for i, c := range candidates {
		passages[i] = rerank.Passage{ID: c.ID, Content: c.Content}
	}

	scored, err := o.Reranker.Rerank(rerankCtx, query, passages)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.Passage, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	out := make([]model.Passage, 0, len(scored))
	for _, s := range scored {
		p, ok := byID[s.ID]
		if !ok {
			continue
		}
		score := s.Score
		p.RerankerScore = &score
		p.FinalScore = score
		p.SearchType = model.SearchReranked
		out = append(out, p)
	}
	return out, nil
}

func filterAccessAnomalies(candidates []model.Passage, user model.UserContext) ([]model.Passage, int) {
	out := make([]model.Passage, 0, len(candidates))
	anomalies := 0
	for _, p := range candidates {
		if accessfilter.ValidateAccess(p, user) {
			out = append(out, p)
		} else {
			anomalies++
		}
	}
	return out, anomalies
}

func (o *Orchestrator) loadTenantConfigs(ctx context.Context, tenantID string) (model.TenantGuardrailConfig, model.TenantFusionConfig, error) {
	if o.Configs == nil {
		return model.DefaultTenantGuardrailConfig(), model.DefaultTenantFusionConfig(), nil
	}
	guardrailCfg, err := o.Configs.GuardrailConfig(ctx, tenantID)
	if err != nil {
		return model.TenantGuardrailConfig{}, model.TenantFusionConfig{}, fmt.Errorf("orchestrator.loadTenantConfigs: guardrail: %w", err)
	}
	fusionCfg, err := o.Configs.FusionConfig(ctx, tenantID)
	if err != nil {
		return model.TenantGuardrailConfig{}, model.TenantFusionConfig{}, fmt.Errorf("orchestrator.loadTenantConfigs: fusion: %w", err)
	}
	return guardrailCfg, fusionCfg, nil
}

func (o *Orchestrator) budget() int {
	if o.ContextBudget <= 0 {
		return contextpack.DefaultBudgetTokens
	}
	return o.ContextBudget
}

// embeddingQueryHash identifies a query text for embedding-cache lookups.
// Mirrors cache.EmbeddingQueryHash exactly (normalize then truncated
// sha256) so the same key lands whichever package computes it; kept local
// to avoid an import cycle (the cache package depends on this one for
// Result).
func embeddingQueryHash(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

func (o *Orchestrator) audit(ctx context.Context, q model.RetrievalQuery, out pipelineOutput, outcome model.PipelineOutcome, citationCount int) {
	if o.Audit == nil {
		return
	}
	hash := sha256.Sum256([]byte(q.Text))
	o.Audit.Record(ctx, model.PipelineAuditRecord{
		QueryID:           q.ID,
		QueryHash:         hex.EncodeToString(hash[:]),
		TenantID:          q.User.TenantID,
		CallerUserID:      q.User.UserID,
		Strategy:          out.fusionStrategy,
		StageTimingsMs:    out.stageTimings,
		FinalConfidence:   out.confidenceBundle.FinalConfidence,
		GuardrailDecision: out.guardrailDecision.ReasonCode,
		CitationCount:     citationCount,
		Outcome:           outcome,
		AccessAnomalies:   out.accessAnomalies,
		CreatedAt:         time.Now(),
	})
}
