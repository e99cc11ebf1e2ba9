package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/connexus-ai/ragcore/internal/model"
)

// openAICompatible implements Client against any OpenAI-compatible
// chat-completions endpoint. Both the "openai" and "vllm" providers use
// this type, differing only in default base URL and provider name — this is
// the same request/response shape as the teacher's BYOLLMClient in
// internal/gcpclient/byollm.go.
type openAICompatible struct {
	providerName string
	apiKey       string
	baseURL      string
	model        string
	streaming    bool
	httpClient   *http.Client
	streamClient *http.Client
}

func newOpenAICompatible(cfg Config, defaultBaseURL string) *openAICompatible {
	baseURL := cfg.Endpoint
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &openAICompatible{
		providerName: string(cfg.Provider),
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		model:        cfg.Model,
		streaming:    cfg.Streaming,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{Timeout: 0},
	}
}

func (c *openAICompatible) SupportsStreaming() bool { return c.streaming }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type chatStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *openAICompatible) authHeader(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// Generate performs a single non-streaming completion, returning it as a
// completion-type StreamEvent so callers can treat streaming and
// non-streaming providers uniformly.
func (c *openAICompatible) Generate(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (model.StreamEvent, error) {
	body := chatRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: 0.2,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return model.StreamEvent{}, fmt.Errorf("llmclient.%s: marshal request: %w", c.providerName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return model.StreamEvent{}, fmt.Errorf("llmclient.%s: create request: %w", c.providerName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return model.StreamEvent{}, fmt.Errorf("llmclient.%s: cancelled: %w", c.providerName, ctx.Err())
		}
		return model.StreamEvent{}, fmt.Errorf("llmclient.%s: request failed: %w", c.providerName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.StreamEvent{}, fmt.Errorf("llmclient.%s: read response: %w", c.providerName, err)
	}

	if resp.StatusCode != http.StatusOK {
		return model.StreamEvent{}, fmt.Errorf("llmclient.%s: status %d: %s", c.providerName, resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return model.StreamEvent{}, fmt.Errorf("llmclient.%s: decode response: %w", c.providerName, err)
	}
	if parsed.Error != nil {
		return model.StreamEvent{}, fmt.Errorf("llmclient.%s: api error: %s", c.providerName, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return model.StreamEvent{}, fmt.Errorf("llmclient.%s: empty response", c.providerName)
	}

	return model.StreamEvent{
		Type:         model.StreamCompletion,
		Text:         parsed.Choices[0].Message.Content,
		TotalTokens:  parsed.Usage.TotalTokens,
		FinishReason: parsed.Choices[0].FinishReason,
		Model:        c.model,
	}, nil
}

// Stream performs a streaming completion, returning a channel of chunk
// events followed by a single completion event (or an error event).
func (c *openAICompatible) Stream(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (<-chan model.StreamEvent, error) {
	out := make(chan model.StreamEvent, 64)

	body := chatRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: 0.2,
		Stream:      true,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llmclient.%s: marshal request: %w", c.providerName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llmclient.%s: create request: %w", c.providerName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authHeader(req)

	go func() {
		defer close(out)

		resp, err := c.streamClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				out <- model.StreamEvent{Type: model.StreamError, Err: fmt.Errorf("llmclient.%s: cancelled: %w", c.providerName, ctx.Err())}
				return
			}
			out <- model.StreamEvent{Type: model.StreamError, Err: fmt.Errorf("llmclient.%s: request failed: %w", c.providerName, err)}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			out <- model.StreamEvent{Type: model.StreamError, Err: fmt.Errorf("llmclient.%s: status %d: %s", c.providerName, resp.StatusCode, raw)}
			return
		}

		var totalTokens int
		var finishReason string

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				out <- model.StreamEvent{Type: model.StreamError, Err: fmt.Errorf("llmclient.%s: cancelled: %w", c.providerName, ctx.Err())}
				return
			}
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				out <- model.StreamEvent{Type: model.StreamError, Err: fmt.Errorf("llmclient.%s: api error: %s", c.providerName, chunk.Error.Message)}
				return
			}
			if chunk.Usage != nil {
				totalTokens = chunk.Usage.TotalTokens
			}
			if len(chunk.Choices) > 0 {
				if chunk.Choices[0].Delta.Content != "" {
					out <- model.StreamEvent{Type: model.StreamChunk, Text: chunk.Choices[0].Delta.Content}
				}
				if chunk.Choices[0].FinishReason != nil {
					finishReason = *chunk.Choices[0].FinishReason
				}
			}
		}

		out <- model.StreamEvent{
			Type:         model.StreamCompletion,
			TotalTokens:  totalTokens,
			FinishReason: finishReason,
			Model:        c.model,
		}
	}()

	return out, nil
}
