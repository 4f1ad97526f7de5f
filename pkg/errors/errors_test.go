package errors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGatewayError_Error(t *testing.T) {
	err := NewProviderError("groq", "llama-3.3-70b", 500, "upstream blew up")
	assert.Contains(t, err.Error(), "provider=groq")
	assert.Contains(t, err.Error(), "upstream blew up")

	verr := NewInvalidRequestError("model is required")
	assert.NotContains(t, verr.Error(), "provider=")
}

func TestHTTPStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, NewInvalidRequestError("x").HTTPStatusCode())
	assert.Equal(t, http.StatusTooManyRequests, NewBudgetExceededError("team-a", 10, 10).HTTPStatusCode())
	assert.Equal(t, http.StatusBadGateway, NewChainExhaustedError("m1", 3).HTTPStatusCode())

	e := &GatewayError{Message: "no code"}
	assert.Equal(t, http.StatusInternalServerError, e.HTTPStatusCode())
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, NewProviderError("p", "m", 500, "x").Retryable)
	assert.True(t, NewProviderError("p", "m", 429, "x").Retryable)
	assert.False(t, NewProviderError("p", "m", 400, "x").Retryable)
	assert.True(t, NewTimeoutError("p", "m").Retryable)
	assert.False(t, NewBudgetExceededError("id", 1, 1).Retryable)
}

func TestIsBreakerRelevant(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{429, true},
		{401, true},
		{408, true},
		{404, true},
		{400, false},
		{422, false},
		{500, true},
		{503, true},
		{0, true}, // connection errors carry no status
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsBreakerRelevant(tc.code), "status %d", tc.code)
	}
}
