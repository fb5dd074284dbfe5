package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cortexltm/ltm/internal/retry"
)

// OllamaEmbedder uses a local Ollama instance for embeddings.
// Default model: nomic-embed-text (768 dims), all-minilm (384 dims).
type OllamaEmbedder struct {
	baseURL string
	model   string
	dims    int
	timeout time.Duration
	policy  retry.Policy
	client  *http.Client
}

// NewOllamaEmbedder creates an embedder against an Ollama server.
func NewOllamaEmbedder(baseURL, model string, timeout time.Duration) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dims := 768
	if model == "all-minilm" {
		dims = 384
	}
	return &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		timeout: timeout,
		policy:  retry.Policy{Attempts: 3, Backoff: 500 * time.Millisecond, Cap: 5 * time.Second, Permanent: permanentHTTP},
		client:  &http.Client{},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, &Error{Provider: "ollama", Op: "embed", Err: fmt.Errorf("empty input")}
	}
	if len(text) > maxEmbedChars {
		// Oversized input is embedded per window and mean-pooled rather
		// than silently truncated.
		return meanPooled(ctx, "ollama", text, e.dims, maxEmbedChars, e.Embed)
	}
	body, _ := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})

	var vec []float32
	err := retry.Do(ctx, e.policy, func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		raw, err := postJSON(callCtx, e.client, e.baseURL+"/api/embeddings", "", body)
		if err != nil {
			return err
		}
		var result ollamaResponse
		if err := json.Unmarshal(raw, &result); err != nil {
			return err
		}
		vec = result.Embedding
		return nil
	})
	if err != nil {
		return nil, &Error{Provider: "ollama", Op: "embed", Err: err}
	}

	// The store's vector columns assume one fixed width; a model swap that
	// changes dimensionality must fail loudly, not corrupt search.
	if len(vec) != e.dims {
		return nil, &Error{Provider: "ollama", Op: "embed",
			Err: fmt.Errorf("unexpected embedding size %d, want %d", len(vec), e.dims)}
	}
	return vec, nil
}

func (e *OllamaEmbedder) Dims() int { return e.dims }
