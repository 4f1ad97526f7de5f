// Package provider defines the adapter interface for backend LLM
// providers and the factory registry used to build adapters from
// configuration. The gateway treats provider wire protocols as a
// boundary: adapters translate requests and responses, nothing more.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/llmgate/llmgate/pkg/types"
)

// Provider is implemented by every backend adapter. It handles the
// request/response transformation for one upstream API.
type Provider interface {
	// Name returns the provider identifier (e.g. "groq", "openai").
	Name() string

	// BuildRequest transforms a unified ChatRequest into an upstream
	// HTTP request.
	BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error)

	// ParseResponse transforms an upstream 2xx response into the
	// unified format.
	ParseResponse(resp *http.Response) (*types.ChatResponse, error)

	// MapError converts an upstream error response into a
	// *errors.GatewayError.
	MapError(statusCode int, body []byte) error

	// Timeout returns the provider's per-attempt timeout, or zero to
	// use the router's default.
	Timeout() time.Duration
}

// Config contains provider-specific configuration.
type Config struct {
	Name    string
	Type    string
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
}

// Factory creates provider instances from configuration.
type Factory func(cfg Config) (Provider, error)
