package api

import (
	"net/http"
	"strings"

	"github.com/llmgate/llmgate/pkg/types"
)

// AnonymousIdentity is charged when a request carries no credential.
const AnonymousIdentity = "anonymous"

// ExtractIdentity resolves the budget identity for a request. The
// Authorization bearer token wins, then X-API-Key, then the request's
// user field. Unidentified callers share the anonymous budget.
func ExtractIdentity(r *http.Request, req *types.ChatRequest) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			token = strings.TrimSpace(token)
			if token != "" {
				return token
			}
		}
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if req != nil && strings.TrimSpace(req.User) != "" {
		return strings.TrimSpace(req.User)
	}
	return AnonymousIdentity
}
