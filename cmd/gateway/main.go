// Package main is the entry point for the llmgate gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llmgate/llmgate/internal/api"
	"github.com/llmgate/llmgate/internal/budget"
	"github.com/llmgate/llmgate/internal/cache"
	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/metrics"
	"github.com/llmgate/llmgate/internal/pricing"
	"github.com/llmgate/llmgate/internal/provider"
	"github.com/llmgate/llmgate/internal/registry"
	"github.com/llmgate/llmgate/internal/router"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	cfgManager, err := config.NewManager(*configPath, slog.Default())
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting llmgate gateway", "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	providers := provider.NewRegistry()
	for _, provCfg := range cfg.Providers {
		prov, err := providers.Create(provider.Config{
			Name:    provCfg.Name,
			Type:    provCfg.Type,
			APIKey:  provCfg.APIKey,
			BaseURL: provCfg.BaseURL,
			Timeout: provCfg.Timeout,
			Headers: provCfg.Headers,
		})
		if err != nil {
			logger.Error("failed to create provider", "name", provCfg.Name, "error", err)
			os.Exit(1)
		}
		logger.Info("provider registered", "name", prov.Name(), "type", provCfg.Type)
	}

	var defs []registry.CandidateConfig
	for _, modelCfg := range cfg.Models {
		for _, cand := range modelCfg.Candidates {
			defs = append(defs, registry.CandidateConfig{
				Provider:     cand.Provider,
				LogicalModel: modelCfg.Name,
				BackendModel: cand.Model,
				CostWeight:   cand.CostWeight,
			})
		}
	}
	reg := registry.New(registry.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureWindow:    cfg.Breaker.FailureWindow,
		Cooldown:         cfg.Breaker.Cooldown,
	}, defs)

	store, err := newCacheStore(cfg.Cache, logger)
	if err != nil {
		logger.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	cacheHandler := cache.NewHandler(store, cache.HandlerConfig{
		Enabled: cfg.Cache.Enabled,
		TTL:     cfg.Cache.TTL,
	})

	ledger := budget.New(budget.Config{
		DefaultLimit: cfg.Budget.DefaultLimit,
		Period:       cfg.Budget.Period,
		Limits:       cfg.Budget.Limits,
	})

	pricingTable := make([]pricing.ModelPricing, 0, len(cfg.Pricing.Models))
	for _, p := range cfg.Pricing.Models {
		pricingTable = append(pricingTable, pricing.ModelPricing{
			Model:           p.Model,
			InputCostPer1K:  p.InputCostPer1K,
			OutputCostPer1K: p.OutputCostPer1K,
		})
	}
	if len(pricingTable) == 0 {
		pricingTable = nil // fall back to the built-in table
	}
	calc := pricing.NewCalculator(pricingTable, cfg.Pricing.CompletionAllowance)

	rt := router.New(router.Config{AttemptTimeout: cfg.Router.AttemptTimeout},
		reg, providers, cacheHandler, ledger, calc, logger)

	var limiter *api.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = api.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize)
	}

	// Budget limits and rate limits follow config reloads; everything
	// else is fixed at startup.
	cfgManager.OnChange(func(next *config.Config) {
		for identity, limit := range next.Budget.Limits {
			ledger.SetLimit(identity, limit)
		}
		if limiter != nil && next.RateLimit.Enabled {
			limiter.Update(next.RateLimit.RequestsPerMinute, next.RateLimit.BurstSize)
		}
	})

	handler := api.NewHandler(rt, cacheHandler, limiter, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	var httpHandler http.Handler = mux
	httpHandler = metrics.Middleware(httpHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	cfgManager.Close()
	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newCacheStore(cfg config.CacheConfig, logger *slog.Logger) (cache.Store, error) {
	if cfg.Backend == "redis" {
		redisCfg := cache.DefaultRedisConfig()
		redisCfg.Addr = cfg.Redis.Addr
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		if cfg.Redis.Namespace != "" {
			redisCfg.Namespace = cfg.Redis.Namespace
		}
		if cfg.TTL > 0 {
			redisCfg.DefaultTTL = cfg.TTL
		}
		store, err := cache.NewRedisStore(redisCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("response cache backend: redis", "addr", cfg.Redis.Addr)
		return store, nil
	}

	memCfg := cache.DefaultMemoryStoreConfig()
	if cfg.MaxEntries > 0 {
		memCfg.MaxEntries = cfg.MaxEntries
	}
	if cfg.TTL > 0 {
		memCfg.DefaultTTL = cfg.TTL
	}
	logger.Info("response cache backend: memory", "max_entries", memCfg.MaxEntries)
	return cache.NewMemoryStore(memCfg), nil
}
