// Package types defines the OpenAI-compatible request and response
// structures that form the gateway's external contract.
package types

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Default sampling parameters applied during normalization.
const (
	DefaultTemperature = 0.7
	DefaultTopP        = 1.0
)

// ChatRequest represents an OpenAI-compatible chat completion request.
// It is the unified input format for every backend provider.
type ChatRequest struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	N                int           `json:"n,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	User             string        `json:"user,omitempty"`
	Stream           bool          `json:"stream,omitempty"`
}

// ChatMessage represents a single message in the conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Validate checks the request for structural problems that make it
// unroutable. Validation failures never reach a provider.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages is required")
	}
	for i, m := range r.Messages {
		if m.Role == "" {
			return fmt.Errorf("messages[%d]: role is required", i)
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative")
	}
	if r.N > 1 {
		return fmt.Errorf("n > 1 is not supported")
	}
	return nil
}

// Normalize fills defaulted sampling parameters so that two requests
// differing only in omitted defaults produce the same fingerprint.
// Message order is preserved as received.
func (r *ChatRequest) Normalize() {
	if r.Temperature == nil {
		t := DefaultTemperature
		r.Temperature = &t
	}
	if r.TopP == nil {
		p := DefaultTopP
		r.TopP = &p
	}
}

// Clone returns a deep copy suitable for per-provider mutation of the
// model name without touching the caller's request.
func (r *ChatRequest) Clone() *ChatRequest {
	cp := *r
	cp.Messages = make([]ChatMessage, len(r.Messages))
	copy(cp.Messages, r.Messages)
	if r.Temperature != nil {
		t := *r.Temperature
		cp.Temperature = &t
	}
	if r.TopP != nil {
		p := *r.TopP
		cp.TopP = &p
	}
	if r.PresencePenalty != nil {
		v := *r.PresencePenalty
		cp.PresencePenalty = &v
	}
	if r.FrequencyPenalty != nil {
		v := *r.FrequencyPenalty
		cp.FrequencyPenalty = &v
	}
	if r.Stop != nil {
		cp.Stop = append([]string(nil), r.Stop...)
	}
	return &cp
}

// Marshal serializes the request with the gateway's JSON encoder.
func (r *ChatRequest) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
