// Package api provides HTTP handlers for the gateway API.
// It implements OpenAI-compatible endpoints for chat completions.
package api

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/llmgate/llmgate/internal/cache"
	"github.com/llmgate/llmgate/internal/router"
	gwerrors "github.com/llmgate/llmgate/pkg/errors"
	"github.com/llmgate/llmgate/pkg/types"
)

// Handler handles HTTP requests for the gateway.
type Handler struct {
	router  *router.Router
	cache   *cache.Handler
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewHandler creates an API handler. The limiter may be nil to disable
// rate limiting.
func NewHandler(rt *router.Router, cacheHandler *cache.Handler, limiter *RateLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		router:  rt,
		cache:   cacheHandler,
		limiter: limiter,
		logger:  logger,
	}
}

// ChatCompletions handles POST /v1/chat/completions requests.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, gwerrors.NewInvalidRequestError("failed to read request body"))
		return
	}
	defer r.Body.Close()

	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, gwerrors.NewInvalidRequestError("invalid JSON: "+err.Error()))
		return
	}

	if err := req.Validate(); err != nil {
		h.writeError(w, gwerrors.NewInvalidRequestError(err.Error()))
		return
	}

	// Streaming bypasses the cache and budget reconciliation, so it is
	// rejected rather than silently degraded.
	if req.Stream {
		h.writeError(w, gwerrors.NewInvalidRequestError("stream is not supported"))
		return
	}

	identity := ExtractIdentity(r, &req)

	if h.limiter != nil && !h.limiter.Allow(identity) {
		h.writeError(w, gwerrors.NewRateLimitError("rate limit exceeded for "+identity))
		return
	}

	if !h.router.KnownModel(req.Model) {
		h.writeError(w, gwerrors.NewInvalidRequestError("unknown model: "+req.Model))
		return
	}

	req.Normalize()

	result := h.router.Route(r.Context(), &router.Request{
		Identity: identity,
		Chat:     &req,
	})

	if result.Err != nil {
		h.writeRouteError(w, result)
		return
	}

	if result.CacheHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("X-Provider", result.Provider)

	h.logger.Info("chat completion served",
		"request_id", requestID,
		"identity", identity,
		"model", req.Model,
		"provider", result.Provider,
		"cache_hit", result.CacheHit,
		"shared", result.Shared,
		"fallbacks", len(result.Attempts),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result.Response)
}

// ListModels handles GET /v1/models.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	names := h.router.Models()
	list := types.ModelList{
		Object: "list",
		Data:   make([]types.Model, 0, len(names)),
	}
	for _, name := range names {
		list.Data = append(list.Data, types.Model{
			ID:      name,
			Object:  "model",
			OwnedBy: "llmgate",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

// HealthCheck handles GET /health/live and /health/ready.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// CacheStats handles GET /admin/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.cache.Stats())
}
