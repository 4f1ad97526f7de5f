package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/llmgate/llmgate/pkg/types"
)

// Fingerprint derives the deterministic cache key for a request from
// its semantically relevant fields: logical model, ordered messages,
// and sampling parameters. It is a pure function of the request, so
// keys are stable across process restarts.
//
// The request should be normalized first; otherwise an omitted default
// and an explicit default fingerprint differently.
func Fingerprint(req *types.ChatRequest) string {
	var sb strings.Builder

	sb.WriteString("model:")
	sb.WriteString(req.Model)

	for _, m := range req.Messages {
		// Length-prefix the content so adjacent messages cannot be
		// re-split into a colliding sequence.
		fmt.Fprintf(&sb, "|msg:%s:%s:%d:%s", m.Role, m.Name, len(m.Content), m.Content)
	}

	if req.Temperature != nil {
		fmt.Fprintf(&sb, "|temp:%.4f", *req.Temperature)
	}
	if req.MaxTokens > 0 {
		fmt.Fprintf(&sb, "|max_tokens:%d", req.MaxTokens)
	}
	if req.TopP != nil {
		fmt.Fprintf(&sb, "|top_p:%.4f", *req.TopP)
	}
	for _, s := range req.Stop {
		fmt.Fprintf(&sb, "|stop:%d:%s", len(s), s)
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
