package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/gatehouse-io/gatehouse/internal/app"
	"github.com/gatehouse-io/gatehouse/internal/attempt"
	"github.com/gatehouse-io/gatehouse/internal/authz"
	"github.com/gatehouse-io/gatehouse/internal/identity"
	"github.com/gatehouse-io/gatehouse/internal/observability"
	"github.com/gatehouse-io/gatehouse/internal/platform/db"
	"github.com/gatehouse-io/gatehouse/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Redis backs the permission cache, the attempt limiter, and tokens.
	// The first two degrade gracefully, so an outage at boot is a warning,
	// not a fatal error.
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	authzRepo := authz.NewRepository(pool)
	permCache := authz.NewCache(redisClient, cfg.PermissionCacheTTL, logger, metrics)
	resolver := authz.NewResolver(authzRepo, permCache)
	gate := authz.NewGate(resolver, logger, metrics)
	authzService := authz.NewService(authzRepo, permCache, logger)

	jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	enqueueWarmup := func(ctx context.Context, maxTargets int) error {
		_, err := jobsClient.EnqueuePermissionWarmup(ctx, maxTargets)
		return err
	}

	authzHandler := authz.NewHandler(logger, authzService, resolver, gate, enqueueWarmup)

	limiter := attempt.NewLimiter(redisClient, attempt.Config{
		MaxAttempts: cfg.AttemptMaxFailures,
		Window:      cfg.AttemptWindow,
		Lockout:     cfg.AttemptLockout,
	}, logger)

	identityRepo := identity.NewRepository(pool)
	identityService := identity.NewService(identityRepo)
	tokens := identity.NewTokenStore(redisClient, cfg.TokenTTL)
	authHandler := identity.NewHandler(logger, identityService, tokens, limiter)
	identityMiddleware := identity.Middleware{Tokens: tokens, Logger: logger}

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		Identity:     identityMiddleware,
		AuthHandler:  authHandler,
		AuthzHandler: authzHandler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
