package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"inventra/backend/internal/alert"
	"inventra/backend/internal/cache"
	"inventra/backend/internal/config"
	"inventra/backend/internal/httpapi"
	"inventra/backend/internal/ledger"
	"inventra/backend/internal/service"
	"inventra/backend/internal/store"
	"inventra/backend/internal/store/memory"
	pgstore "inventra/backend/internal/store/postgres"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal("failed to ensure database schema", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	productCache := cache.ProductCache(cache.NoopProductCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisProductCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop cache", zap.Error(err))
		} else {
			productCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis")
		}
	} else {
		log.Info("cache: noop")
	}

	alerts := alert.New(repo, log.Named("alert"))
	stockLedger := ledger.New(repo, alerts, log.Named("ledger"))
	svc := service.New(repo, stockLedger, alerts, productCache, time.Duration(cfg.ProductCacheTTLSeconds)*time.Second, log.Named("service"))
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log.Named("http"))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("fulfillment backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
