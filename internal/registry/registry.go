// Package registry maps logical model names to cost-ordered backend
// provider candidates and tracks per-candidate health with a circuit
// breaker. The router reads candidates and reports outcomes; all
// health-state transitions live here.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/llmgate/llmgate/internal/metrics"
	gwerrors "github.com/llmgate/llmgate/pkg/errors"
)

// HealthState represents the health of a provider candidate.
type HealthState int

const (
	// Healthy candidates are selected normally.
	Healthy HealthState = iota
	// Degraded candidates are selected but one success away from healthy.
	Degraded
	// CircuitOpen candidates are excluded until their cooldown elapses,
	// after which a single probe request is admitted.
	CircuitOpen
)

func (s HealthState) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case CircuitOpen:
		return "circuit-open"
	default:
		return "unknown"
	}
}

// Candidate is one backend deployment able to serve a logical model.
type Candidate struct {
	ID           string  // unique: provider + backend model
	Provider     string  // provider adapter name
	LogicalModel string  // the model name callers use
	BackendModel string  // the model name sent upstream
	CostWeight   float64 // relative cost; chains are ordered ascending

	breaker *breaker
}

// State returns the candidate's current health state.
func (c *Candidate) State() HealthState {
	return c.breaker.state()
}

// Config holds circuit breaker thresholds shared by all candidates.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"` // consecutive failures to open (default 5)
	FailureWindow    time.Duration `yaml:"failure_window"`    // window for "consecutive" (default 1m)
	Cooldown         time.Duration `yaml:"cooldown"`          // open duration before probing (default 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureWindow:    time.Minute,
		Cooldown:         30 * time.Second,
	}
}

// Registry owns the candidate lists. Reads are lock-free after build
// except for breaker state, which uses per-candidate locking.
type Registry struct {
	mu         sync.RWMutex
	candidates map[string][]*Candidate // logical model -> ascending cost
	byID       map[string]*Candidate
	cfg        Config
	now        func() time.Time
}

// CandidateConfig describes one candidate at build time.
type CandidateConfig struct {
	Provider     string
	LogicalModel string
	BackendModel string
	CostWeight   float64
}

// New builds a registry from candidate definitions.
func New(cfg Config, defs []CandidateConfig) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	r := &Registry{
		candidates: make(map[string][]*Candidate),
		byID:       make(map[string]*Candidate),
		cfg:        cfg,
		now:        time.Now,
	}

	for _, def := range defs {
		backend := def.BackendModel
		if backend == "" {
			backend = def.LogicalModel
		}
		c := &Candidate{
			ID:           def.Provider + "/" + backend,
			Provider:     def.Provider,
			LogicalModel: def.LogicalModel,
			BackendModel: backend,
			CostWeight:   def.CostWeight,
		}
		c.breaker = newBreaker(cfg, r.nowFn)
		r.candidates[def.LogicalModel] = append(r.candidates[def.LogicalModel], c)
		r.byID[c.ID] = c
	}

	// Fallback chains are attempted strictly in ascending cost order;
	// equal weights keep their configured order.
	for model := range r.candidates {
		list := r.candidates[model]
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].CostWeight < list[j].CostWeight
		})
	}

	return r
}

func (r *Registry) nowFn() time.Time {
	return r.now()
}

// CandidatesFor returns the fallback chain for a logical model in
// ascending cost order, excluding open-circuit candidates. A candidate
// whose cooldown has elapsed is admitted as a single probe.
func (r *Registry) CandidatesFor(model string) []*Candidate {
	r.mu.RLock()
	all := r.candidates[model]
	r.mu.RUnlock()

	chain := make([]*Candidate, 0, len(all))
	for _, c := range all {
		if c.breaker.allow() {
			chain = append(chain, c)
		}
	}
	return chain
}

// ReportOutcome records a request outcome against a candidate's health.
// A nil error is a success. Failures that say nothing about provider
// health (plain 4xx validation rejections) are ignored.
func (r *Registry) ReportOutcome(candidateID string, err error) {
	r.mu.RLock()
	c, ok := r.byID[candidateID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	if err == nil {
		c.breaker.recordSuccess()
		metrics.SetBreakerState(c.ID, int(c.breaker.state()))
		return
	}

	var gwErr *gwerrors.GatewayError
	if errors.As(err, &gwErr) && !gwerrors.IsBreakerRelevant(gwErr.StatusCode) {
		return
	}
	c.breaker.recordFailure()
	metrics.SetBreakerState(c.ID, int(c.breaker.state()))
}

// Models returns the sorted logical model names currently resolvable.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.candidates))
	for m := range r.candidates {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// Candidate returns a candidate by ID, for health introspection.
func (r *Registry) Candidate(id string) (*Candidate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}
