package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/budget"
	"github.com/llmgate/llmgate/internal/cache"
	"github.com/llmgate/llmgate/internal/pricing"
	"github.com/llmgate/llmgate/internal/provider"
	"github.com/llmgate/llmgate/internal/registry"
	gwerrors "github.com/llmgate/llmgate/pkg/errors"
	"github.com/llmgate/llmgate/pkg/types"
)

// fakeUpstream is one OpenAI-compatible backend with a scripted
// behavior and a call counter.
type fakeUpstream struct {
	srv   *httptest.Server
	calls atomic.Int64
}

func newFakeUpstream(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func respondOK(content string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := types.ChatResponse{
			ID:      "chatcmpl-fake",
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   "backend-model",
			Choices: []types.Choice{{
				Message:      types.ChatMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			}},
			Usage: &types.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func respondStatus(code int) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"upstream failure","type":"server_error"}}`, code)
	}
}

type testEnv struct {
	router *Router
	ledger *budget.Ledger
	cache  *cache.Handler
	reg    *registry.Registry
}

// newTestEnv wires a router over fake upstreams. Candidate order in
// upstreams is the configured (pre-sort) order; cost weights 1, 2, 3...
// keep the chain in slice order.
func newTestEnv(t *testing.T, budgetCfg budget.Config, upstreams map[string]*fakeUpstream) *testEnv {
	t.Helper()

	providers := provider.NewRegistry()
	defs := make([]registry.CandidateConfig, 0, len(upstreams))
	weight := 1.0
	for _, name := range []string{"alpha", "beta", "gamma"} {
		up, ok := upstreams[name]
		if !ok {
			continue
		}
		_, err := providers.Create(provider.Config{
			Name:    name,
			Type:    "openai-compatible",
			APIKey:  "test-key",
			BaseURL: up.srv.URL,
		})
		require.NoError(t, err)
		defs = append(defs, registry.CandidateConfig{
			Provider:     name,
			LogicalModel: "test-model",
			BackendModel: "backend-" + name,
			CostWeight:   weight,
		})
		weight++
	}

	reg := registry.New(registry.DefaultConfig(), defs)
	store := cache.NewMemoryStore(cache.DefaultMemoryStoreConfig())
	t.Cleanup(func() { _ = store.Close() })
	handler := cache.NewHandler(store, cache.DefaultHandlerConfig())
	ledger := budget.New(budgetCfg)

	calc := pricing.NewCalculator(nil, 0)
	calc.AddPricing(pricing.ModelPricing{Model: "test-model", InputCostPer1K: 1, OutputCostPer1K: 1})
	calc.AddPricing(pricing.ModelPricing{Model: "backend-*", InputCostPer1K: 1, OutputCostPer1K: 1})

	rt := New(Config{AttemptTimeout: 2 * time.Second}, reg, providers, handler, ledger, calc, nil)
	return &testEnv{router: rt, ledger: ledger, cache: handler, reg: reg}
}

func testRequest() *Request {
	req := &types.ChatRequest{
		Model:    "test-model",
		Messages: []types.ChatMessage{{Role: "user", Content: "hello"}},
	}
	req.Normalize()
	return &Request{Identity: "user-1", Chat: req}
}

func TestRouteSuccess(t *testing.T) {
	up := newFakeUpstream(t, respondOK("hi"))
	env := newTestEnv(t, budget.Config{}, map[string]*fakeUpstream{"alpha": up})

	res := env.router.Route(context.Background(), testRequest())
	require.Nil(t, res.Err)
	require.NotNil(t, res.Response)
	assert.Equal(t, "alpha", res.Provider)
	assert.False(t, res.CacheHit)
	assert.Empty(t, res.Attempts)
	assert.Equal(t, int64(1), up.calls.Load())
	assert.Greater(t, res.Cost, 0.0)

	snap := env.ledger.Snapshot("user-1")
	assert.InDelta(t, res.Cost, snap.Consumed, 1e-9)
	assert.Zero(t, snap.Reserved)
}

func TestRouteFallbackOrder(t *testing.T) {
	a := newFakeUpstream(t, respondStatus(http.StatusInternalServerError))
	b := newFakeUpstream(t, respondStatus(http.StatusServiceUnavailable))
	c := newFakeUpstream(t, respondOK("third time lucky"))
	env := newTestEnv(t, budget.Config{}, map[string]*fakeUpstream{"alpha": a, "beta": b, "gamma": c})

	res := env.router.Route(context.Background(), testRequest())
	require.Nil(t, res.Err)
	assert.Equal(t, "gamma", res.Provider)

	// Failed attempts are reported in chain order; the winner is not
	// among them.
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "alpha", res.Attempts[0].Provider)
	assert.Equal(t, "beta", res.Attempts[1].Provider)

	assert.Equal(t, int64(1), a.calls.Load())
	assert.Equal(t, int64(1), b.calls.Load())
	assert.Equal(t, int64(1), c.calls.Load())

	// Spend is credited once, against the winning candidate only.
	snap := env.ledger.Snapshot("user-1")
	assert.InDelta(t, res.Cost, snap.Consumed, 1e-9)
}

func TestRouteChainExhausted(t *testing.T) {
	a := newFakeUpstream(t, respondStatus(http.StatusInternalServerError))
	b := newFakeUpstream(t, respondStatus(http.StatusBadGateway))
	env := newTestEnv(t, budget.Config{}, map[string]*fakeUpstream{"alpha": a, "beta": b})

	res := env.router.Route(context.Background(), testRequest())
	require.NotNil(t, res.Err)
	assert.Equal(t, gwerrors.TypeChainExhausted, res.Err.Type)
	assert.Equal(t, http.StatusBadGateway, res.Err.StatusCode)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, http.StatusInternalServerError, res.Attempts[0].StatusCode)
	assert.Equal(t, http.StatusBadGateway, res.Attempts[1].StatusCode)

	// The reservation is released: a failed request costs nothing.
	snap := env.ledger.Snapshot("user-1")
	assert.Zero(t, snap.Consumed)
	assert.Zero(t, snap.Reserved)
}

func TestRouteCacheHitSkipsBudgetAndProviders(t *testing.T) {
	up := newFakeUpstream(t, respondOK("cached"))
	env := newTestEnv(t, budget.Config{}, map[string]*fakeUpstream{"alpha": up})

	first := env.router.Route(context.Background(), testRequest())
	require.Nil(t, first.Err)
	consumedAfterFirst := env.ledger.Snapshot("user-1").Consumed

	second := env.router.Route(context.Background(), testRequest())
	require.Nil(t, second.Err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, "alpha", second.Provider)
	assert.Equal(t, first.Response.ID, second.Response.ID)

	// No second upstream call and no additional spend.
	assert.Equal(t, int64(1), up.calls.Load())
	assert.InDelta(t, consumedAfterFirst, env.ledger.Snapshot("user-1").Consumed, 1e-9)
}

func TestRouteBudgetDenied(t *testing.T) {
	up := newFakeUpstream(t, respondOK("never reached"))
	// Pricing for test-model is 1 USD per 1K tokens, so any estimate
	// exceeds this limit.
	env := newTestEnv(t, budget.Config{DefaultLimit: 0.0001}, map[string]*fakeUpstream{"alpha": up})

	res := env.router.Route(context.Background(), testRequest())
	require.NotNil(t, res.Err)
	assert.Equal(t, gwerrors.TypeBudgetExceeded, res.Err.Type)
	assert.Equal(t, http.StatusTooManyRequests, res.Err.StatusCode)
	require.NotNil(t, res.Snapshot)
	assert.Equal(t, 0.0001, res.Snapshot.Limit)

	// Denied before dispatch: the provider is never contacted.
	assert.Zero(t, up.calls.Load())
}

func TestRouteSingleFlight(t *testing.T) {
	release := make(chan struct{})
	up := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		respondOK("shared")(w, r)
	})
	env := newTestEnv(t, budget.Config{}, map[string]*fakeUpstream{"alpha": up})

	const waiters = 8
	results := make([]*Result, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = env.router.Route(context.Background(), testRequest())
		}(i)
	}

	// Let all callers pile onto the flight before the upstream answers.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), up.calls.Load(), "identical concurrent requests share one upstream call")

	owners := 0
	for _, res := range results {
		require.Nil(t, res.Err)
		assert.Equal(t, "shared", res.Response.Choices[0].Message.Content)
		if !res.Shared {
			owners++
		}
	}
	assert.Equal(t, 1, owners, "exactly one caller owns the flight")

	// One dispatch means one budget charge regardless of waiter count.
	snap := env.ledger.Snapshot("user-1")
	assert.InDelta(t, results[0].Cost, snap.Consumed, 1e-9)
}

func TestRouteCallerDisconnectKeepsFlightAlive(t *testing.T) {
	release := make(chan struct{})
	up := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		respondOK("survivor")(w, r)
	})
	env := newTestEnv(t, budget.Config{}, map[string]*fakeUpstream{"alpha": up})

	ctx, cancel := context.WithCancel(context.Background())
	var cancelled *Result
	var survivor *Result
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		cancelled = env.router.Route(ctx, testRequest())
	}()
	go func() {
		defer wg.Done()
		survivor = env.router.Route(context.Background(), testRequest())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NotNil(t, cancelled.Err)
	require.Nil(t, survivor.Err)
	assert.Equal(t, "survivor", survivor.Response.Choices[0].Message.Content)
	assert.Equal(t, int64(1), up.calls.Load())
}

func TestRouteAttemptTimeoutAdvancesChain(t *testing.T) {
	slow := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	fast := newFakeUpstream(t, respondOK("fast"))
	env := newTestEnv(t, budget.Config{}, map[string]*fakeUpstream{"alpha": slow, "beta": fast})
	env.router.attemptTimeout = 100 * time.Millisecond

	res := env.router.Route(context.Background(), testRequest())
	require.Nil(t, res.Err)
	assert.Equal(t, "beta", res.Provider)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, "alpha", res.Attempts[0].Provider)
	assert.Equal(t, http.StatusRequestTimeout, res.Attempts[0].StatusCode)
}

func TestRoutePerProviderTimeoutOverridesDefault(t *testing.T) {
	slow := newFakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	fast := newFakeUpstream(t, respondOK("fast"))

	providers := provider.NewRegistry()
	_, err := providers.Create(provider.Config{
		Name:    "alpha",
		Type:    "openai-compatible",
		APIKey:  "k",
		BaseURL: slow.srv.URL,
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	_, err = providers.Create(provider.Config{
		Name:    "beta",
		Type:    "openai-compatible",
		APIKey:  "k",
		BaseURL: fast.srv.URL,
	})
	require.NoError(t, err)

	reg := registry.New(registry.DefaultConfig(), []registry.CandidateConfig{
		{Provider: "alpha", LogicalModel: "test-model", BackendModel: "backend-alpha", CostWeight: 1},
		{Provider: "beta", LogicalModel: "test-model", BackendModel: "backend-beta", CostWeight: 2},
	})
	store := cache.NewMemoryStore(cache.DefaultMemoryStoreConfig())
	t.Cleanup(func() { _ = store.Close() })
	rt := New(Config{AttemptTimeout: time.Minute}, reg, providers,
		cache.NewHandler(store, cache.DefaultHandlerConfig()),
		budget.New(budget.Config{}), pricing.NewCalculator(nil, 0), nil)

	// Alpha's own 100ms timeout fires despite the 1m router default.
	start := time.Now()
	res := rt.Route(context.Background(), testRequest())
	require.Nil(t, res.Err)
	assert.Equal(t, "beta", res.Provider)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, http.StatusRequestTimeout, res.Attempts[0].StatusCode)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRouteNoCandidates(t *testing.T) {
	env := newTestEnv(t, budget.Config{}, map[string]*fakeUpstream{})

	res := env.router.Route(context.Background(), testRequest())
	require.NotNil(t, res.Err)
	assert.Equal(t, http.StatusServiceUnavailable, res.Err.StatusCode)

	snap := env.ledger.Snapshot("user-1")
	assert.Zero(t, snap.Consumed)
	assert.Zero(t, snap.Reserved)
}

func TestRouteOpenCircuitSkipsCandidate(t *testing.T) {
	failing := newFakeUpstream(t, respondStatus(http.StatusInternalServerError))
	healthy := newFakeUpstream(t, respondOK("backup"))
	env := newTestEnv(t, budget.Config{}, map[string]*fakeUpstream{"alpha": failing, "beta": healthy})

	// Trip alpha's breaker with distinct requests so the cache and
	// single-flight stay out of the way.
	for i := 0; i < registry.DefaultConfig().FailureThreshold; i++ {
		req := testRequest()
		req.Chat.Messages[0].Content = "trip " + string(rune('a'+i))
		res := env.router.Route(context.Background(), req)
		require.Nil(t, res.Err)
		assert.Equal(t, "beta", res.Provider)
	}
	failedCalls := failing.calls.Load()

	// Alpha's circuit is now open: it is excluded from the chain.
	req := testRequest()
	req.Chat.Messages[0].Content = "after open"
	res := env.router.Route(context.Background(), req)
	require.Nil(t, res.Err)
	assert.Equal(t, "beta", res.Provider)
	assert.Empty(t, res.Attempts)
	assert.Equal(t, failedCalls, failing.calls.Load())
}
