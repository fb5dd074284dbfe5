package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openai/openai-go"

	"github.com/cortexltm/ltm/internal/retry"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL. Any compatible
	// endpoint (Azure, Groq, local servers) can be substituted.
	DefaultBaseURL = "https://api.openai.com/v1"

	// maxEmbedChars is the per-request embedding input cap, a character
	// stand-in for the ~8k token model limit. Longer input is chunked and
	// mean-pooled.
	maxEmbedChars = 20000
)

// Options configures the shared HTTP behavior of the OpenAI-family clients.
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Retry   retry.Policy
}

func (o *Options) defaults(model string) {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.Model == "" {
		o.Model = model
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Retry.Attempts == 0 {
		o.Retry = retry.Policy{Attempts: 3, Backoff: 500 * time.Millisecond, Cap: 5 * time.Second}
	}
	o.Retry.Permanent = permanentHTTP
}

// statusError distinguishes retryable provider responses from permanent ones.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func permanentHTTP(err error) bool {
	se, ok := err.(*statusError)
	if !ok {
		return false // network-level failures are worth retrying
	}
	// Rate limits and server errors are transient; other 4xx are not.
	return se.code >= 400 && se.code < 500 && se.code != http.StatusTooManyRequests
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint and asserts a
// fixed dimensionality.
type OpenAIEmbedder struct {
	opts   Options
	dims   int
	client *http.Client
}

// NewOpenAIEmbedder creates an embedder. Zero dims defaults to 1536
// (text-embedding-3-small).
func NewOpenAIEmbedder(opts Options, dims int) *OpenAIEmbedder {
	opts.defaults("text-embedding-3-small")
	if dims <= 0 {
		dims = 1536
	}
	return &OpenAIEmbedder{
		opts:   opts,
		dims:   dims,
		client: &http.Client{},
	}
}

type embedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, &Error{Provider: "openai", Op: "embed", Err: fmt.Errorf("empty input")}
	}
	if len(text) > maxEmbedChars {
		// Oversized input is embedded per window and mean-pooled rather
		// than silently truncated.
		return meanPooled(ctx, "openai", text, e.dims, maxEmbedChars, e.Embed)
	}

	body, _ := json.Marshal(embedRequest{Input: text, Model: e.opts.Model})

	var vec []float32
	err := retry.Do(ctx, e.opts.Retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()

		raw, err := postJSON(callCtx, e.client, e.opts.BaseURL+"/embeddings", e.opts.APIKey, body)
		if err != nil {
			return err
		}
		var result embedResponse
		if err := json.Unmarshal(raw, &result); err != nil {
			return err
		}
		if len(result.Data) == 0 {
			return fmt.Errorf("no embedding returned")
		}
		vec = result.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, &Error{Provider: "openai", Op: "embed", Err: err}
	}

	// The store's vector columns assume one fixed width; a model swap that
	// changes dimensionality must fail loudly, not corrupt search.
	if len(vec) != e.dims {
		return nil, &Error{Provider: "openai", Op: "embed",
			Err: fmt.Errorf("unexpected embedding size %d, want %d", len(vec), e.dims)}
	}
	return vec, nil
}

func (e *OpenAIEmbedder) Dims() int { return e.dims }

// OpenAIGenerator calls an OpenAI-compatible chat-completions endpoint.
type OpenAIGenerator struct {
	opts        Options
	temperature float64
	maxTokens   int
	client      *http.Client
}

// NewOpenAIGenerator creates a generation client. Temperature and maxTokens
// below/at zero fall back to 0.2 and 400, matching the conservative settings
// used for summaries and extraction.
func NewOpenAIGenerator(opts Options, temperature float64, maxTokens int) *OpenAIGenerator {
	opts.defaults("gpt-4o-mini")
	if temperature <= 0 {
		temperature = 0.2
	}
	if maxTokens <= 0 {
		maxTokens = 400
	}
	return &OpenAIGenerator{
		opts:        opts,
		temperature: temperature,
		maxTokens:   maxTokens,
		client:      &http.Client{},
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (g *OpenAIGenerator) Generate(ctx context.Context, system string, messages []Message) (string, error) {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		params = append(params, openai.SystemMessage(system))
	}
	for _, m := range messages {
		switch m.Role {
		case RoleAssistant:
			params = append(params, openai.AssistantMessage(m.Content))
		default:
			params = append(params, openai.UserMessage(m.Content))
		}
	}

	reqBody := map[string]any{
		"model":       g.opts.Model,
		"messages":    params,
		"temperature": g.temperature,
		"max_tokens":  g.maxTokens,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", &Error{Provider: "openai", Op: "generate", Err: err}
	}

	var out string
	err = retry.Do(ctx, g.opts.Retry, func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()

		raw, err := postJSON(callCtx, g.client, g.opts.BaseURL+"/chat/completions", g.opts.APIKey, body)
		if err != nil {
			return err
		}
		var result chatResponse
		if err := json.Unmarshal(raw, &result); err != nil {
			return err
		}
		if len(result.Choices) == 0 {
			return fmt.Errorf("no choices returned")
		}
		out = result.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", &Error{Provider: "openai", Op: "generate", Err: err}
	}
	return out, nil
}

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: string(raw)}
	}
	return raw, nil
}
