package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	gwerrors "github.com/llmgate/llmgate/pkg/errors"
	"github.com/llmgate/llmgate/pkg/types"
)

// OpenAICompatible is a generic adapter for providers that speak the
// OpenAI chat-completions wire format. Most hosted LLM APIs (OpenAI,
// Groq, DeepSeek, Together, Mistral, ...) differ only in base URL and
// authentication, so one adapter covers them all.
type OpenAICompatible struct {
	name    string
	apiKey  string
	baseURL string
	timeout time.Duration
	headers map[string]string
}

// NewOpenAICompatible creates an adapter from configuration.
func NewOpenAICompatible(cfg Config) (Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %q: base_url is required", cfg.Name)
	}
	return &OpenAICompatible{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		headers: cfg.Headers,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAICompatible) Name() string {
	return p.name
}

// Timeout returns the configured per-attempt timeout, zero when unset.
func (p *OpenAICompatible) Timeout() time.Duration {
	return p.timeout
}

// BuildRequest creates the upstream HTTP request. The request's model
// field must already hold the backend model name.
func (p *OpenAICompatible) BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

// ParseResponse decodes an upstream 2xx response.
func (p *OpenAICompatible) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var chatResp types.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("response contains no choices")
	}
	return &chatResp, nil
}

// openaiErrorBody is the error envelope most OpenAI-compatible APIs use.
type openaiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// MapError converts an upstream error response into a GatewayError.
func (p *OpenAICompatible) MapError(statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var parsed openaiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return gwerrors.NewProviderError(p.name, "", statusCode, message)
}
