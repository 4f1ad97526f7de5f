// Package errors defines unified error types for gateway operations.
// Provider-specific failures, budget denials, and validation problems
// are all mapped onto these types before crossing the API boundary.
package errors

import (
	"fmt"
	"net/http"
)

// Error type strings surfaced in the OpenAI-compatible error envelope.
const (
	TypeInvalidRequest     = "invalid_request_error"
	TypeBudgetExceeded     = "budget_exceeded"
	TypeAuthentication     = "authentication_error"
	TypeRateLimit          = "rate_limit_error"
	TypeTimeout            = "timeout_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeProviderError      = "provider_error"
	TypeChainExhausted     = "provider_chain_exhausted"
	TypeInternalError      = "internal_error"
)

// GatewayError represents a standardized error from the gateway or one
// of its backend providers. It carries everything needed for logging
// and for the client-facing error response.
type GatewayError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
			e.Type, e.Message, e.Provider, e.Model, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s (code=%d)", e.Type, e.Message, e.StatusCode)
}

// HTTPStatusCode returns the status code to send to the caller.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// NewInvalidRequestError creates a validation error (400).
// No provider is contacted and no budget is consumed for these.
func NewInvalidRequestError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
		Retryable:  false,
	}
}

// NewBudgetExceededError creates a budget admission denial (429).
func NewBudgetExceededError(identity string, consumed, limit float64) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusTooManyRequests,
		Message: fmt.Sprintf("budget exceeded for %q: consumed %.6f of %.6f USD",
			identity, consumed, limit),
		Type:      TypeBudgetExceeded,
		Retryable: false,
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Retryable:  true,
	}
}

// NewTimeoutError creates a per-attempt timeout error (408). Timeouts
// are treated like any other provider failure and advance the chain.
func NewTimeoutError(provider, model string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusRequestTimeout,
		Message:    "provider attempt timed out",
		Type:       TypeTimeout,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewProviderError creates an error for a single failed candidate.
func NewProviderError(provider, model string, statusCode int, message string) *GatewayError {
	if statusCode <= 0 {
		statusCode = http.StatusBadGateway
	}
	return &GatewayError{
		StatusCode: statusCode,
		Message:    message,
		Type:       TypeProviderError,
		Provider:   provider,
		Model:      model,
		Retryable:  statusCode == http.StatusTooManyRequests || statusCode >= 500,
	}
}

// NewServiceUnavailableError creates a connectivity error (503).
func NewServiceUnavailableError(provider, model, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeServiceUnavailable,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
	}
}

// NewChainExhaustedError creates the terminal error returned when every
// candidate in the fallback chain failed (502).
func NewChainExhaustedError(model string, attempts int) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusBadGateway,
		Message:    fmt.Sprintf("all %d provider candidates failed for model %q", attempts, model),
		Type:       TypeChainExhausted,
		Model:      model,
		Retryable:  true,
	}
}

// NewInternalError creates an internal server error (500). Reserved for
// invariant violations; fatal to the request, never to the process.
func NewInternalError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternalError,
		Retryable:  false,
	}
}

// IsBreakerRelevant reports whether a failure with this status should
// count against the candidate's circuit breaker. Client-side 4xx errors
// other than 429/401/408/404 say nothing about provider health.
func IsBreakerRelevant(statusCode int) bool {
	if statusCode >= 400 && statusCode < 500 {
		switch statusCode {
		case http.StatusTooManyRequests,
			http.StatusUnauthorized,
			http.StatusRequestTimeout,
			http.StatusNotFound:
			return true
		default:
			return false
		}
	}
	return statusCode >= 500 || statusCode == 0
}
