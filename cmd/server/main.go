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

	"gudang/backend/internal/cache"
	"gudang/backend/internal/config"
	"gudang/backend/internal/events"
	"gudang/backend/internal/httpapi"
	"gudang/backend/internal/locker"
	"gudang/backend/internal/logger"
	"gudang/backend/internal/service"
	"gudang/backend/internal/store"
	"gudang/backend/internal/store/memory"
	pgstore "gudang/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Must(logger.New(cfg.LogLevel))
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	app, err := build(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           app.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("supplier ledger listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	app.close(log)
	log.Info("server stopped")
}

type application struct {
	handler http.Handler
	closers []func() error
}

func (a *application) close(log *zap.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Error("close error", zap.Error(err))
		}
	}
}

// build wires the store, cache, locker and publisher selected by cfg. Empty
// connection settings fall back to in-process implementations.
func build(ctx context.Context, cfg config.Config, log *zap.Logger) (*application, error) {
	app := &application{}
	deps := service.Dependencies{
		ProductCacheTTL: cfg.ProductCacheTTL(),
		Logger:          log,
		QtyScale:        cfg.QtyScale,
	}

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, pgstore.Options{MaxOpenConns: cfg.DBMaxOpenConns})
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		app.closers = append(app.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			app.close(log)
			return nil, fmt.Errorf("migrate: %w", err)
		}
		repo = pg
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		productCache := cache.NewRedisProductCache(client)
		if err := productCache.Ping(ctx); err != nil {
			_ = client.Close()
			log.Warn("redis unavailable, using noop cache and local locks", zap.Error(err))
		} else {
			app.closers = append(app.closers, client.Close)
			deps.ProductCache = productCache
			deps.Locker = locker.NewRedis(client, cfg.DocumentLockTTL())
			log.Info("cache: redis")
		}
	} else {
		log.Info("cache: noop")
	}

	if cfg.KafkaBrokers != "" {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		app.closers = append(app.closers, publisher.Close)
		deps.Publisher = publisher
		log.Info("events: kafka", zap.String("topic", cfg.KafkaTopic))
	} else {
		log.Info("events: noop")
	}

	svc := service.New(repo, deps)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), cfg.AdminPIN)
	app.handler = httpapi.New(svc, auth, cfg.AllowedOrigin, log).Handler()
	return app, nil
}
