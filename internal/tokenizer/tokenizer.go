// Package tokenizer provides token counting helpers for chat requests.
// Counts feed the pre-call cost estimate used for budget admission.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/llmgate/llmgate/pkg/types"
)

var (
	encodingCache sync.Map // model -> *tiktoken.Tiktoken
	defaultOnce   sync.Once
	defaultEnc    *tiktoken.Tiktoken
)

// CountTextTokens returns the token count for the given text.
// If no encoding is available it falls back to a conservative len/4
// estimate so admission control keeps working without encoding data.
func CountTextTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc := getEncoding(model)
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimatePromptTokens estimates prompt tokens for a chat request by
// counting message content plus a small per-message format overhead.
func EstimatePromptTokens(model string, req *types.ChatRequest) int {
	if req == nil {
		return 0
	}

	total := 0
	for _, msg := range req.Messages {
		total += CountTextTokens(model, msg.Role)
		total += CountTextTokens(model, msg.Name)
		total += CountTextTokens(model, msg.Content)
		// Per-message formatting overhead used by common chat formats.
		total += 2
	}

	// Reply primer overhead.
	total += 3
	return total
}

func getEncoding(model string) *tiktoken.Tiktoken {
	if enc, ok := encodingCache.Load(model); ok {
		if enc == nil {
			return defaultEncoding()
		}
		return enc.(*tiktoken.Tiktoken)
	}

	enc, err := tiktoken.EncodingForModel(normalizeModel(model))
	if err != nil {
		encodingCache.Store(model, nil)
		return defaultEncoding()
	}

	encodingCache.Store(model, enc)
	return enc
}

func defaultEncoding() *tiktoken.Tiktoken {
	defaultOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			defaultEnc = enc
		}
	})
	return defaultEnc
}

// normalizeModel strips a provider prefix such as "groq/" so tiktoken
// model lookup sees the bare model name.
func normalizeModel(model string) string {
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}
