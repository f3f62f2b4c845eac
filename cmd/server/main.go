package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"kwscope/internal/breaker"
	breakermetrics "kwscope/internal/breaker/metrics"
	"kwscope/internal/cache"
	cachemetrics "kwscope/internal/cache/metrics"
	httptransport "kwscope/internal/http"
	"kwscope/internal/keywords/handler"
	keywordmetrics "kwscope/internal/keywords/metrics"
	keywordservice "kwscope/internal/keywords/service"
	"kwscope/internal/platform/config"
	"kwscope/internal/platform/httpserver"
	"kwscope/internal/platform/logger"
	platformredis "kwscope/internal/platform/redis"
	"kwscope/internal/provider"
	ratelimitmetrics "kwscope/internal/ratelimit/metrics"
	ratelimitmw "kwscope/internal/ratelimit/middleware"
	ratelimitservice "kwscope/internal/ratelimit/service"
	"kwscope/internal/storage"
)

// main wires dependencies and owns the server lifecycle. All decision logic
// lives in the internal packages; nothing here is reachable from tests.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Server.LogLevel)

	backend, redisClient := newBackend(cfg, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	limiter, err := ratelimitservice.New(backend,
		ratelimitservice.WithLogger(log),
		ratelimitservice.WithMetrics(ratelimitmetrics.New()),
	)
	if err != nil {
		log.Error("rate limiter init failed", "error", err)
		os.Exit(1)
	}

	responseCache := cache.New(backend,
		cache.WithPrivacyMode(cfg.Cache.PrivacyMode),
		cache.WithLogger(log),
		cache.WithMetrics(cachemetrics.New()),
	)
	if cfg.Cache.PrivacyMode {
		log.Info("privacy mode enabled, response caching disabled")
	}

	providerBreaker := breaker.New("keyword-provider",
		breaker.WithFailureThreshold(cfg.Breaker.FailureThreshold),
		breaker.WithFailureWindow(cfg.Breaker.FailureWindow),
		breaker.WithResetTimeout(cfg.Breaker.ResetTimeout),
		breaker.WithSuccessThreshold(cfg.Breaker.SuccessThreshold),
		breaker.WithMaxHalfOpenProbes(cfg.Breaker.MaxHalfOpenProbes),
		breaker.WithLogger(log),
		breaker.WithMetrics(breakermetrics.New()),
	)

	source := newSource(cfg, log)

	svc, err := keywordservice.New(
		limiter,
		responseCache,
		providerBreaker,
		source,
		cfg.Limits.Research,
		cfg.Cache.TTL,
		keywordservice.WithLogger(log),
		keywordservice.WithMetrics(keywordmetrics.New()),
	)
	if err != nil {
		log.Error("keyword service init failed", "error", err)
		os.Exit(1)
	}

	limitsMW := ratelimitmw.New(limiter, log)
	router := httptransport.NewRouter(cfg, handler.New(svc, log), limitsMW)
	srv := httpserver.New(cfg.Server.Addr, router)

	log.Info("starting kwscope", "addr", cfg.Server.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// newBackend picks the shared Redis backend when configured, otherwise the
// bounded in-memory fallback. The fallback keeps a single instance functional
// but its counters are not shared across instances.
func newBackend(cfg config.Config, log *slog.Logger) (storage.Backend, *platformredis.Client) {
	client, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if client == nil {
		log.Warn("redis not configured, using in-memory storage backend")
		return storage.NewMemory(), nil
	}
	log.Info("connected to redis")
	return storage.NewRedis(client.Client), client
}

func newSource(cfg config.Config, log *slog.Logger) provider.KeywordSource {
	if cfg.Provider.UseStub {
		log.Warn("using stub keyword provider")
		return provider.NewStub()
	}
	return provider.NewHTTP(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)
}
