package cache

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/llmgate/llmgate/pkg/types"
)

// CachedResponse is the stored envelope for a cache entry: the response
// payload plus its insertion metadata.
type CachedResponse struct {
	Timestamp int64               `json:"timestamp"` // unix seconds at insertion
	Provider  string              `json:"provider"`  // candidate that produced it
	Size      int                 `json:"size"`      // serialized response bytes
	Response  *types.ChatResponse `json:"response"`
}

// Handler provides high-level caching operations over a Store. It owns
// serialization and the insertion-time envelope; fingerprinting is the
// caller's concern so the router computes keys exactly once.
type Handler struct {
	store   Store
	ttl     time.Duration
	enabled bool
}

// HandlerConfig holds configuration for the cache handler.
type HandlerConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// DefaultHandlerConfig returns sensible defaults.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Enabled: true,
		TTL:     time.Hour,
	}
}

// NewHandler creates a cache handler over the given store.
func NewHandler(store Store, cfg HandlerConfig) *Handler {
	return &Handler{
		store:   store,
		ttl:     cfg.TTL,
		enabled: cfg.Enabled && store != nil,
	}
}

// Enabled reports whether lookups and stores are active.
func (h *Handler) Enabled() bool {
	return h.enabled
}

// Lookup returns the cached response for a fingerprint, or nil on miss.
// Backend errors degrade to misses; a broken cache must not fail the
// request.
func (h *Handler) Lookup(ctx context.Context, fingerprint string) *CachedResponse {
	if !h.enabled {
		return nil
	}

	data, err := h.store.Get(ctx, fingerprint)
	if err != nil || data == nil {
		return nil
	}

	var cached CachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupt entry; drop it and treat as a miss.
		_ = h.store.Delete(ctx, fingerprint)
		return nil
	}
	if cached.Response == nil {
		return nil
	}
	return &cached
}

// Store inserts a response for a fingerprint, overwriting any previous
// entry so a fingerprint maps to at most one cached response.
func (h *Handler) Store(ctx context.Context, fingerprint, provider string, resp *types.ChatResponse) {
	if !h.enabled || resp == nil {
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}

	data, err := json.Marshal(CachedResponse{
		Timestamp: time.Now().Unix(),
		Provider:  provider,
		Size:      len(payload),
		Response:  resp,
	})
	if err != nil {
		return
	}

	_ = h.store.Set(ctx, fingerprint, data, h.ttl)
}

// Stats exposes the underlying store's statistics.
func (h *Handler) Stats() Stats {
	if h.store == nil {
		return Stats{}
	}
	return h.store.Stats()
}
