// Package config provides configuration management with hot-reload
// support. It uses fsnotify to watch for file changes and atomic
// pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Providers []ProviderConfig `yaml:"providers"`
	Models    []ModelConfig    `yaml:"models"`
	Cache     CacheConfig      `yaml:"cache"`
	Budget    BudgetConfig     `yaml:"budget"`
	Breaker   BreakerConfig    `yaml:"circuit_breaker"`
	Router    RouterConfig     `yaml:"router"`
	Pricing   PricingConfig    `yaml:"pricing"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// ProviderConfig defines a single backend provider.
type ProviderConfig struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"` // openai, groq, deepseek, together, openai-compatible
	APIKey  string            `yaml:"api_key"`
	BaseURL string            `yaml:"base_url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// ModelConfig maps a logical model name to its candidate deployments.
// Candidates are attempted in ascending cost_weight order.
type ModelConfig struct {
	Name       string            `yaml:"name"`
	Candidates []CandidateConfig `yaml:"candidates"`
}

// CandidateConfig is one backend deployment for a logical model.
type CandidateConfig struct {
	Provider   string  `yaml:"provider"`
	Model      string  `yaml:"model"` // backend model name; defaults to the logical name
	CostWeight float64 `yaml:"cost_weight"`
}

// CacheConfig contains response cache settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Backend    string        `yaml:"backend"` // memory, redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"` // memory backend only
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig contains the redis cache backend settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

// BudgetConfig contains spend admission settings. Limits are USD per
// period; a zero default_limit disables enforcement for identities
// without an override.
type BudgetConfig struct {
	DefaultLimit float64            `yaml:"default_limit"`
	Period       time.Duration      `yaml:"period"`
	Limits       map[string]float64 `yaml:"limits"`
}

// BreakerConfig contains circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	FailureWindow    time.Duration `yaml:"failure_window"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// RouterConfig contains dispatch settings.
type RouterConfig struct {
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// PricingConfig overrides the built-in pricing table.
type PricingConfig struct {
	CompletionAllowance int                  `yaml:"completion_allowance"`
	Models              []ModelPricingConfig `yaml:"models"`
}

// ModelPricingConfig is one pricing table row, USD per 1000 tokens.
// Model patterns ending in "*" match by prefix.
type ModelPricingConfig struct {
	Model           string  `yaml:"model"`
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`
}

// RateLimitConfig defines per-identity rate limiting parameters.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "memory",
			TTL:        time.Hour,
			MaxEntries: 10000,
		},
		Budget: BudgetConfig{
			Period: 24 * time.Hour,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			FailureWindow:    time.Minute,
			Cooldown:         30 * time.Second,
		},
		Router: RouterConfig{
			AttemptTimeout: 60 * time.Second,
		},
		Pricing: PricingConfig{
			CompletionAllowance: 1024,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	providerNames := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider[%d]: name is required", i)
		}
		if providerNames[p.Name] {
			return fmt.Errorf("provider[%d]: duplicate name %q", i, p.Name)
		}
		providerNames[p.Name] = true
		if p.Type == "" {
			return fmt.Errorf("provider[%d] %q: type is required", i, p.Name)
		}
		if p.APIKey == "" {
			return fmt.Errorf("provider[%d] %q: api_key is required", i, p.Name)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider[%d] %q: timeout cannot be negative", i, p.Name)
		}
	}

	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}
	for i, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("model[%d]: name is required", i)
		}
		if len(m.Candidates) == 0 {
			return fmt.Errorf("model %q: at least one candidate is required", m.Name)
		}
		for j, cand := range m.Candidates {
			if cand.Provider == "" {
				return fmt.Errorf("model %q candidate[%d]: provider is required", m.Name, j)
			}
			if !providerNames[cand.Provider] {
				return fmt.Errorf("model %q candidate[%d]: unknown provider %q", m.Name, j, cand.Provider)
			}
			if cand.CostWeight < 0 {
				return fmt.Errorf("model %q candidate[%d]: cost_weight cannot be negative", m.Name, j)
			}
		}
	}

	switch c.Cache.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required for the redis backend")
	}

	if c.Budget.DefaultLimit < 0 {
		return fmt.Errorf("budget.default_limit cannot be negative")
	}
	for identity, limit := range c.Budget.Limits {
		if limit < 0 {
			return fmt.Errorf("budget.limits[%q] cannot be negative", identity)
		}
	}
	if c.Budget.Period < 0 {
		return fmt.Errorf("budget.period cannot be negative")
	}

	if c.Breaker.FailureThreshold < 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold cannot be negative")
	}
	if c.Router.AttemptTimeout < 0 {
		return fmt.Errorf("router.attempt_timeout cannot be negative")
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive when enabled")
	}

	return nil
}
