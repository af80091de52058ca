package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Dolores18/api-manager/internal/analytics"
	"github.com/Dolores18/api-manager/internal/config"
	"github.com/Dolores18/api-manager/internal/gateway"
	"github.com/Dolores18/api-manager/internal/health"
	"github.com/Dolores18/api-manager/internal/logger"
	"github.com/Dolores18/api-manager/internal/platform/otel"
	"github.com/Dolores18/api-manager/internal/pricing"
	"github.com/Dolores18/api-manager/internal/registry"
	"github.com/Dolores18/api-manager/internal/server"
	"github.com/Dolores18/api-manager/internal/server/validator"
	"github.com/Dolores18/api-manager/internal/store/cache"
	"github.com/Dolores18/api-manager/internal/store/sqlite"

	// vendor checkers register themselves in init()
	_ "github.com/Dolores18/api-manager/internal/vendors/deepseek"
	_ "github.com/Dolores18/api-manager/internal/vendors/openai"
	_ "github.com/Dolores18/api-manager/internal/vendors/siliconflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Initialize(cfg.Server.Env)
	log := logger.Get()
	defer logger.Sync()

	shutdownTracer, err := otel.InitTracer("api-manager", log, os.Stdout)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	repo, err := sqlite.NewSQLiteStorage(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		_ = repo.Close()
	}()

	var cacheService cache.CacheService
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("Redis unavailable, using in-memory cache", zap.Error(err))
			cacheService = cache.NewMemoryCache()
		} else {
			cacheService = redisCache
			log.Info("Redis cache connected", zap.String("addr", cfg.Redis.Addr))
		}
	} else {
		cacheService = cache.NewMemoryCache()
	}

	validator.InitValidator()

	httpClient := &http.Client{Timeout: cfg.Router.UpstreamTimeout}

	reg := registry.New(log, repo)
	if err := reg.Load(context.Background()); err != nil {
		return fmt.Errorf("load providers: %w", err)
	}

	pricingEngine := pricing.NewEngine(log, repo, cacheService)

	ledger := analytics.NewLedger(log, repo, pricingEngine)
	ledger.Start()
	defer ledger.Stop()

	monitor := health.NewMonitor(log, reg, httpClient, cfg.Health.CheckInterval, cfg.Health.ProbeTimeout, cfg.Health.DemoteAfter)
	monitor.Start(context.Background())
	defer monitor.Stop()

	selector := gateway.NewSelector(cfg.Router.Strategy)
	service := gateway.NewService(log, reg, selector, ledger, httpClient, cfg.Router.MaxAttempts, cfg.Router.UpstreamTimeout)

	srv := server.New(cfg, log, service, reg, repo, cacheService, pricingEngine, ledger, httpClient)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server listening", zap.String("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("Tracer shutdown failed", zap.Error(err))
	}

	return nil
}
