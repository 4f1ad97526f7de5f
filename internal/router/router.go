// Package router implements the gateway's core request flow:
//
//	RECEIVED -> CACHE_CHECK -> BUDGET_CHECK -> DISPATCHING(i) -> {SUCCEEDED, EXHAUSTED}
//
// A cache hit short-circuits straight to success with no budget
// consumption and no provider call. On a miss, budget admission runs
// once, then candidates are attempted strictly in ascending cost order
// until one succeeds or the chain is exhausted. Concurrent requests
// sharing a fingerprint share one dispatch via singleflight.
package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/llmgate/llmgate/internal/budget"
	"github.com/llmgate/llmgate/internal/cache"
	"github.com/llmgate/llmgate/internal/metrics"
	"github.com/llmgate/llmgate/internal/pricing"
	"github.com/llmgate/llmgate/internal/provider"
	"github.com/llmgate/llmgate/internal/registry"
	gwerrors "github.com/llmgate/llmgate/pkg/errors"
	"github.com/llmgate/llmgate/pkg/types"
)

// Request is the request-scoped input to the router: the normalized
// chat request plus the calling identity. The fingerprint is computed
// once at routing start.
type Request struct {
	Identity string
	Chat     *types.ChatRequest
}

// Attempt records one failed candidate dispatch for the terminal
// failure report. Every attempted-and-failed provider appears here.
type Attempt struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error"`
}

// Result is the router's terminal state: either a response credited to
// exactly one provider, or a failure carrying the ordered attempts.
type Result struct {
	Response *types.ChatResponse
	Provider string
	CacheHit bool
	Shared   bool // joined another caller's in-flight dispatch
	Cost     float64
	Err      *gwerrors.GatewayError
	Attempts []Attempt
	Snapshot *budget.Snapshot // set on budget denial
}

// Config holds router tunables.
type Config struct {
	AttemptTimeout time.Duration `yaml:"attempt_timeout"` // per-candidate upstream timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{AttemptTimeout: 60 * time.Second}
}

// Router coordinates cache, ledger, registry, and provider adapters.
// Safe for concurrent use.
type Router struct {
	registry  *registry.Registry
	providers *provider.Registry
	cache     *cache.Handler
	ledger    *budget.Ledger
	calc      *pricing.Calculator

	httpClient     *http.Client
	attemptTimeout time.Duration
	logger         *slog.Logger

	flights singleflight.Group
}

// New creates a router. The http.Client is shared across providers for
// connection pooling; per-attempt timeouts come from contexts, not the
// client, so the client should have no global timeout of its own.
func New(
	cfg Config,
	reg *registry.Registry,
	providers *provider.Registry,
	cacheHandler *cache.Handler,
	ledger *budget.Ledger,
	calc *pricing.Calculator,
	logger *slog.Logger,
) *Router {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:  reg,
		providers: providers,
		cache:     cacheHandler,
		ledger:    ledger,
		calc:      calc,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		attemptTimeout: cfg.AttemptTimeout,
		logger:         logger,
	}
}

// Models returns the logical models the router can resolve.
func (r *Router) Models() []string {
	return r.registry.Models()
}

// KnownModel reports whether any candidate is configured for the model,
// regardless of current health.
func (r *Router) KnownModel(model string) bool {
	for _, m := range r.registry.Models() {
		if m == model {
			return true
		}
	}
	return false
}

// Route drives one request through the state machine. The returned
// Result is shared between callers that joined the same flight and
// must be treated as read-only.
func (r *Router) Route(ctx context.Context, req *Request) *Result {
	fingerprint := cache.Fingerprint(req.Chat)

	if cached := r.cache.Lookup(ctx, fingerprint); cached != nil {
		metrics.RecordCacheHit(req.Chat.Model)
		return &Result{
			Response: cached.Response,
			Provider: cached.Provider,
			CacheHit: true,
		}
	}
	metrics.RecordCacheMiss(req.Chat.Model)

	// The flight runs on a context detached from this caller so a
	// disconnect abandons the wait without killing the shared dispatch
	// other waiters depend on. The closure only runs for the caller
	// that owns the flight; singleflight's own Shared flag is true for
	// the owner too once anyone joins, so it cannot identify joiners.
	flightCtx := context.WithoutCancel(ctx)
	var owned bool
	ch := r.flights.DoChan(fingerprint, func() (any, error) {
		owned = true
		return r.dispatch(flightCtx, fingerprint, req), nil
	})

	select {
	case <-ctx.Done():
		// Caller gone; the in-flight dispatch completes for the
		// remaining waiters and its result is discarded here.
		return &Result{Err: gwerrors.NewInternalError("request cancelled: " + ctx.Err().Error())}
	case res := <-ch:
		result := res.Val.(*Result)
		if !owned {
			shared := *result
			shared.Shared = true
			return &shared
		}
		return result
	}
}

// dispatch runs BUDGET_CHECK and the DISPATCHING loop for one flight.
func (r *Router) dispatch(ctx context.Context, fingerprint string, req *Request) *Result {
	// A flight that queued behind a completed identical dispatch may
	// find the response already cached.
	if cached := r.cache.Lookup(ctx, fingerprint); cached != nil {
		metrics.RecordCacheHit(req.Chat.Model)
		return &Result{Response: cached.Response, Provider: cached.Provider, CacheHit: true}
	}

	model := req.Chat.Model

	estimate := r.calc.Estimate(model, req.Chat)
	reservation, err := r.ledger.Reserve(req.Identity, estimate)
	if err != nil {
		snap := r.ledger.Snapshot(req.Identity)
		metrics.RecordBudgetDenial(req.Identity)
		r.logger.Info("budget admission denied",
			"identity", req.Identity,
			"model", model,
			"estimate", estimate,
			"consumed", snap.Consumed,
			"limit", snap.Limit,
		)
		return &Result{
			Err:      gwerrors.NewBudgetExceededError(req.Identity, snap.Consumed, snap.Limit),
			Snapshot: &snap,
		}
	}

	chain := r.registry.CandidatesFor(model)
	if len(chain) == 0 {
		r.ledger.Release(reservation)
		return &Result{Err: gwerrors.NewServiceUnavailableError("", model,
			"no available provider for model "+model)}
	}

	var attempts []Attempt
	for _, cand := range chain {
		resp, attemptErr := r.attempt(ctx, cand, req.Chat)
		r.registry.ReportOutcome(cand.ID, attemptErr)

		if attemptErr == nil {
			actual := r.calc.Actual(cand.BackendModel, resp.Usage, estimate)
			r.ledger.Commit(reservation, actual)
			r.cache.Store(ctx, fingerprint, cand.Provider, resp)
			metrics.RecordRequest(cand.Provider, cand.BackendModel, http.StatusOK)
			if len(attempts) > 0 {
				metrics.RecordFallback(model)
			}
			if resp.Usage != nil {
				metrics.RecordTokens(cand.Provider, cand.BackendModel,
					resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			}
			metrics.RecordSpend(req.Identity, actual)
			return &Result{
				Response: resp,
				Provider: cand.Provider,
				Cost:     actual,
				Attempts: attempts,
			}
		}

		attempt := Attempt{Provider: cand.Provider, Model: cand.BackendModel, Error: attemptErr.Error()}
		var gwErr *gwerrors.GatewayError
		if errors.As(attemptErr, &gwErr) {
			attempt.StatusCode = gwErr.StatusCode
			attempt.Error = gwErr.Message
		}
		attempts = append(attempts, attempt)
		metrics.RecordProviderError(cand.Provider)
		r.logger.Warn("provider attempt failed",
			"provider", cand.Provider,
			"model", cand.BackendModel,
			"error", attemptErr,
		)
	}

	// Every candidate failed; no cost was incurred for the caller.
	r.ledger.Release(reservation)
	return &Result{
		Err:      gwerrors.NewChainExhaustedError(model, len(attempts)),
		Attempts: attempts,
	}
}

// attempt dispatches to a single candidate with the per-attempt
// timeout. A timeout is indistinguishable from any other provider
// failure: it advances the chain.
func (r *Router) attempt(ctx context.Context, cand *registry.Candidate, chat *types.ChatRequest) (*types.ChatResponse, error) {
	prov, ok := r.providers.Get(cand.Provider)
	if !ok {
		return nil, gwerrors.NewInternalError("provider " + cand.Provider + " not registered")
	}

	timeout := r.attemptTimeout
	if t := prov.Timeout(); t > 0 {
		timeout = t
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backendReq := chat.Clone()
	backendReq.Model = cand.BackendModel

	httpReq, err := prov.BuildRequest(attemptCtx, backendReq)
	if err != nil {
		return nil, gwerrors.NewInternalError("build request: " + err.Error())
	}

	start := time.Now()
	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() != nil {
			return nil, gwerrors.NewTimeoutError(cand.Provider, cand.BackendModel)
		}
		return nil, gwerrors.NewServiceUnavailableError(cand.Provider, cand.BackendModel, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, prov.MapError(resp.StatusCode, body)
	}

	chatResp, err := prov.ParseResponse(resp)
	if err != nil {
		return nil, gwerrors.NewProviderError(cand.Provider, cand.BackendModel,
			http.StatusBadGateway, "malformed provider response: "+err.Error())
	}

	metrics.ObserveAttemptLatency(cand.Provider, cand.BackendModel, time.Since(start))
	return chatResp, nil
}
