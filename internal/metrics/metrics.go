// Package metrics provides Prometheus metrics collection for the
// gateway. It tracks request counts, latencies, token usage, cache
// effectiveness, budget denials, and circuit breaker state.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "llmgate"

// LatencyBuckets defines histogram buckets for upstream latency
// metrics, in seconds. LLM completions routinely take tens of seconds.
var LatencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 180, 300,
}

var (
	// RequestsTotal counts completed upstream requests by provider,
	// model, and status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of upstream LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	// AttemptLatency tracks per-candidate upstream call latency.
	AttemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_latency_seconds",
			Help:      "Upstream attempt latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"provider", "model"},
	)

	// HTTPLatency tracks end-to-end handler latency by route.
	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_latency_seconds",
			Help:      "End-to-end HTTP request latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"route", "status"},
	)

	// TokenUsage tracks token consumption by direction.
	TokenUsage = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_usage_total",
			Help:      "Total token usage",
		},
		[]string{"provider", "model", "type"}, // type: input, output
	)

	// CacheLookups counts cache hits and misses by model.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total response cache lookups",
		},
		[]string{"model", "result"}, // result: hit, miss
	)

	// BudgetDenials counts admission denials by identity.
	BudgetDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_denials_total",
			Help:      "Total requests denied by budget admission",
		},
		[]string{"identity"},
	)

	// SpendTotal accumulates estimated USD spend by identity.
	SpendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spend_usd_total",
			Help:      "Accumulated upstream spend in USD",
		},
		[]string{"identity"},
	)

	// FallbacksTotal counts requests that succeeded only after at
	// least one candidate failed.
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total requests served by a fallback candidate",
		},
		[]string{"model"},
	)

	// ProviderErrors counts failed upstream attempts by provider.
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Total failed upstream attempts",
		},
		[]string{"provider"},
	)

	// CircuitBreakerState tracks breaker status per candidate.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=healthy, 1=degraded, 2=open)",
		},
		[]string{"candidate"},
	)

	// RateLimited counts requests rejected by the per-identity rate
	// limiter before reaching the router.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total requests rejected by the rate limiter",
		},
		[]string{"identity"},
	)
)

// RecordRequest records a completed upstream request.
func RecordRequest(provider, model string, statusCode int) {
	RequestsTotal.WithLabelValues(provider, sanitizeModelLabel(model), strconv.Itoa(statusCode)).Inc()
}

// ObserveAttemptLatency records one upstream attempt's duration.
func ObserveAttemptLatency(provider, model string, d time.Duration) {
	AttemptLatency.WithLabelValues(provider, sanitizeModelLabel(model)).Observe(d.Seconds())
}

// RecordTokens records token usage for a completed request.
func RecordTokens(provider, model string, inputTokens, outputTokens int) {
	model = sanitizeModelLabel(model)
	if inputTokens > 0 {
		TokenUsage.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		TokenUsage.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordCacheHit records a response served from cache.
func RecordCacheHit(model string) {
	CacheLookups.WithLabelValues(sanitizeModelLabel(model), "hit").Inc()
}

// RecordCacheMiss records a cache lookup that missed.
func RecordCacheMiss(model string) {
	CacheLookups.WithLabelValues(sanitizeModelLabel(model), "miss").Inc()
}

// RecordBudgetDenial records an admission denial.
func RecordBudgetDenial(identity string) {
	BudgetDenials.WithLabelValues(identity).Inc()
}

// RecordSpend accumulates spend against an identity.
func RecordSpend(identity string, usd float64) {
	if usd > 0 {
		SpendTotal.WithLabelValues(identity).Add(usd)
	}
}

// RecordFallback records a request served by a non-primary candidate.
func RecordFallback(model string) {
	FallbacksTotal.WithLabelValues(sanitizeModelLabel(model)).Inc()
}

// RecordProviderError records one failed upstream attempt.
func RecordProviderError(provider string) {
	ProviderErrors.WithLabelValues(provider).Inc()
}

// RecordRateLimited records a request rejected by the rate limiter.
func RecordRateLimited(identity string) {
	RateLimited.WithLabelValues(identity).Inc()
}

// SetBreakerState publishes a candidate's breaker state.
func SetBreakerState(candidateID string, state int) {
	CircuitBreakerState.WithLabelValues(candidateID).Set(float64(state))
}

const maxModelLabelLen = 64

// sanitizeModelLabel bounds label cardinality from caller-supplied
// model names.
func sanitizeModelLabel(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return "unknown"
	}

	var b strings.Builder
	for _, r := range model {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' || r == ':' || r == '/' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		if b.Len() >= maxModelLabelLen {
			break
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}
