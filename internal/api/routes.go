package api

import (
	"net/http"
)

// RegisterRoutes registers all API routes on the given mux. Both the
// /v1-prefixed and bare completion paths are served for client
// compatibility.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chat/completions", h.ChatCompletions)
	mux.HandleFunc("POST /chat/completions", h.ChatCompletions)

	mux.HandleFunc("GET /v1/models", h.ListModels)
	mux.HandleFunc("GET /models", h.ListModels)

	mux.HandleFunc("GET /health/live", h.HealthCheck)
	mux.HandleFunc("GET /health/ready", h.HealthCheck)
	mux.HandleFunc("GET /{$}", h.HealthCheck)

	mux.HandleFunc("GET /admin/cache/stats", h.CacheStats)
}
