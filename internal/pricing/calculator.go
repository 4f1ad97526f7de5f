// Package pricing converts token counts into USD cost figures.
// Cost feeds both budget admission (pre-call estimate) and the
// post-call reconciliation commit.
package pricing

import (
	"strings"

	"github.com/llmgate/llmgate/internal/tokenizer"
	"github.com/llmgate/llmgate/pkg/types"
)

// ModelPricing defines the pricing for a model. Patterns ending in "*"
// match by prefix, longest prefix wins.
type ModelPricing struct {
	Model           string
	InputCostPer1K  float64
	OutputCostPer1K float64
}

// DefaultPricing contains default pricing for common models, in USD
// per 1000 tokens.
var DefaultPricing = []ModelPricing{
	{Model: "gpt-4o", InputCostPer1K: 0.005, OutputCostPer1K: 0.015},
	{Model: "gpt-4o-mini", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006},
	{Model: "gpt-4*", InputCostPer1K: 0.03, OutputCostPer1K: 0.06},
	{Model: "gpt-3.5-turbo", InputCostPer1K: 0.0005, OutputCostPer1K: 0.0015},

	{Model: "claude-3-5-sonnet*", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
	{Model: "claude-3-haiku*", InputCostPer1K: 0.00025, OutputCostPer1K: 0.00125},

	{Model: "llama-3*", InputCostPer1K: 0.0002, OutputCostPer1K: 0.0002},
	{Model: "deepseek-chat", InputCostPer1K: 0.00014, OutputCostPer1K: 0.00028},
	{Model: "mixtral-8x7b*", InputCostPer1K: 0.0007, OutputCostPer1K: 0.0007},
}

// DefaultCompletionAllowance is the output-token allowance assumed for
// admission when the request does not set max_tokens.
const DefaultCompletionAllowance = 1024

// Calculator calculates the cost of API usage.
type Calculator struct {
	pricing             map[string]ModelPricing
	completionAllowance int
}

// NewCalculator creates a pricing calculator. A nil table uses
// DefaultPricing; a non-positive allowance uses the default.
func NewCalculator(pricing []ModelPricing, completionAllowance int) *Calculator {
	if pricing == nil {
		pricing = DefaultPricing
	}
	if completionAllowance <= 0 {
		completionAllowance = DefaultCompletionAllowance
	}

	c := &Calculator{
		pricing:             make(map[string]ModelPricing, len(pricing)),
		completionAllowance: completionAllowance,
	}
	for _, p := range pricing {
		c.pricing[p.Model] = p
	}
	return c
}

// Cost returns the USD cost for the given model and token counts.
// Unknown models cost 0, so they pass admission but never accrue spend.
func (c *Calculator) Cost(model string, inputTokens, outputTokens int) float64 {
	p, ok := c.findPricing(model)
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000.0*p.InputCostPer1K +
		float64(outputTokens)/1000.0*p.OutputCostPer1K
}

// Estimate returns the pre-call cost estimate used for admission:
// counted prompt tokens plus the request's max_tokens (or the
// configured completion allowance when unset), priced for the model.
func (c *Calculator) Estimate(model string, req *types.ChatRequest) float64 {
	prompt := tokenizer.EstimatePromptTokens(model, req)
	completion := c.completionAllowance
	if req != nil && req.MaxTokens > 0 {
		completion = req.MaxTokens
	}
	return c.Cost(model, prompt, completion)
}

// Actual returns the reconciled post-call cost from reported usage.
// Falls back to the estimate when the provider omitted usage.
func (c *Calculator) Actual(model string, usage *types.Usage, estimate float64) float64 {
	if usage == nil {
		return estimate
	}
	return c.Cost(model, usage.PromptTokens, usage.CompletionTokens)
}

// AddPricing adds or updates pricing for a model pattern.
func (c *Calculator) AddPricing(p ModelPricing) {
	c.pricing[p.Model] = p
}

// findPricing resolves pricing with exact match first, then the
// longest matching "*" prefix pattern.
func (c *Calculator) findPricing(model string) (ModelPricing, bool) {
	for pattern, p := range c.pricing {
		if strings.EqualFold(pattern, model) {
			return p, true
		}
	}

	modelLower := strings.ToLower(model)
	var best *ModelPricing
	bestLen := -1
	for pattern, p := range c.pricing {
		if !strings.HasSuffix(pattern, "*") {
			continue
		}
		prefix := strings.ToLower(strings.TrimSuffix(pattern, "*"))
		if strings.HasPrefix(modelLower, prefix) && len(prefix) > bestLen {
			pCopy := p
			best = &pCopy
			bestLen = len(prefix)
		}
	}
	if best != nil {
		return *best, true
	}
	return ModelPricing{}, false
}
