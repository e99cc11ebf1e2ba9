// Package llmclient implements the LLMClient abstraction (C11) and its two
// required providers, both grounded on internal/gcpclient/byollm.go: an
// OpenAI-compatible chat-completions client and an OpenAI-compatible vLLM
// client. Both speak the same wire protocol (vLLM exposes an
// OpenAI-compatible surface), so they share one implementation behind a
// thin provider-specific constructor, normalized to the model.StreamEvent
// sequence the rest of the pipeline consumes.
package llmclient

import (
	"context"
	"fmt"

	"github.com/connexus-ai/ragcore/internal/model"
)

// Client is the provider-agnostic interface the orchestrator drives.
type Client interface {
	SupportsStreaming() bool
	Stream(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (<-chan model.StreamEvent, error)
	Generate(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (model.StreamEvent, error)
}

// Provider names a registered LLM provider kind.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderVLLM   Provider = "vllm"
)

// Config configures a provider client.
type Config struct {
	Provider    Provider
	Model       string
	Endpoint    string
	APIKey      string
	Streaming   bool
	TimeoutMs   int
}

// NewProvider is the factory mentioned in §9's design notes: new providers
// are added by implementing Client and registering here. Both current
// providers are OpenAI-compatible chat-completions surfaces, differing
// only in default endpoint and display name.
func NewProvider(cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return newOpenAICompatible(cfg, "https://api.openai.com/v1"), nil
	case ProviderVLLM:
		return newOpenAICompatible(cfg, "http://localhost:8000/v1"), nil
	default:
		return nil, fmt.Errorf("llmclient.NewProvider: unknown provider %q", cfg.Provider)
	}
}
