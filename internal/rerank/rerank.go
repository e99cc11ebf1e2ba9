// Package rerank implements the optional cross-encoder reranker client
// (C6). Its HTTP request/response handling follows the same idiom as
// internal/gcpclient/byollm.go (context-aware request, status-code
// classification, explicit timeout) but against a reranker-specific wire
// contract rather than an OpenAI-compatible one.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// Passage is the minimal shape the reranker needs: an id and content.
type Passage struct {
	ID      string
	Content string
}

// Scored is a reranked passage with its cross-encoder score.
type Scored struct {
	ID    string
	Score float64
}

// Client calls an external cross-encoder reranker service.
type Client struct {
	url        string
	httpClient *http.Client
}

// Config controls the reranker client's behavior.
type Config struct {
	Enabled          bool
	URL              string
	Timeout          time.Duration
	FallbackEnabled  bool
}

// NewClient creates a reranker Client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Query    string    `json:"query"`
	Passages []Passage `json:"passages"`
}

type rerankResponse struct {
	Results []Scored `json:"results"`
}

// Rerank scores query against passages (capped by the caller to N<=20) and
// returns them sorted descending by score. On timeout or HTTP failure it
// returns an error; the caller is responsible for the bypass-on-failure
// policy described in §4.4 — this client does not silently swallow errors
// so that callers can log the fallback.
func (c *Client) Rerank(ctx context.Context, query string, passages []Passage) ([]Scored, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Passages: passages})
	if err != nil {
		return nil, fmt.Errorf("rerank.Rerank: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rerank.Rerank: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("rerank.Rerank: cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("rerank.Rerank: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank.Rerank: unexpected status %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("rerank.Rerank: decode: %w", err)
	}

	sort.Slice(parsed.Results, func(i, j int) bool { return parsed.Results[i].Score > parsed.Results[j].Score })
	return parsed.Results, nil
}
