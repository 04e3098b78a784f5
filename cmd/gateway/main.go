package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/handlers"
	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/orchestrator"
	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/personas"
	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/pool"
	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/config"
	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/database"
	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/logger"
	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/metrics"
	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(logger.Options{Env: cfg.Env, Level: cfg.LogLevel, OutputFile: cfg.LogFile})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	lg.Info("starting TrueCompanion gateway",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("provider", cfg.Provider))

	metrics.Init()

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is optional: needed for the shared rate-limit backend or the cache
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.New(ctx, cfg.RedisURL)
		if err != nil {
			lg.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		lg.Info("connected to Redis")
	}

	// Postgres is optional: generation log and usage stats
	var db *database.DB
	if cfg.DatabaseURL != "" {
		db, err = database.New(cfg.DatabaseURL)
		if err != nil {
			lg.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			lg.Fatal("failed to prepare database schema", zap.Error(err))
		}
		lg.Info("connected to PostgreSQL")
	}

	// One generator per configured key
	set, err := providers.NewSet(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("failed to initialize upstream providers", zap.Error(err))
	}

	credPool, err := pool.New(set.Labels, pool.WithRotationDelay(cfg.KeyRotationDelay))
	if err != nil {
		lg.Fatal("failed to create credential pool", zap.Error(err))
	}
	metrics.CredentialsAvailable.Set(float64(credPool.AvailableCount()))

	limiterOpts := []ratelimit.Option{}
	if cfg.RateLimitBackend == "redis" {
		limiterOpts = append(limiterOpts, ratelimit.WithStore(ratelimit.NewRedisStore(redisClient)))
	}
	limiter := ratelimit.New(ratelimit.Config{
		Window:         cfg.RateLimitWindow,
		MaxRequests:    cfg.RateLimitMaxRequests,
		BaseInterval:   cfg.MinRequestInterval,
		GlobalCooldown: cfg.GlobalCooldown,
	}, credPool, lg.Named("ratelimit"), limiterOpts...)

	genCfg := providers.GenerationConfig{Temperature: cfg.Temperature, MaxOutputTokens: cfg.MaxOutputTokens}
	orch, err := orchestrator.New(orchestrator.Config{
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		PacingDelay:   cfg.PacingDelay,
		ShortCooldown: cfg.ShortCooldown,
		LongCooldown:  cfg.LongCooldown,
		CallTimeout:   cfg.UpstreamTimeout,
		Generation:    genCfg,
	}, credPool, set.Generators, lg.Named("orchestrator"), orchestrator.WithCooldownTrigger(limiter))
	if err != nil {
		lg.Fatal("failed to create orchestrator", zap.Error(err))
	}

	characters, err := personas.Load(cfg.PersonasFile)
	if err != nil {
		lg.Fatal("failed to load personas", zap.Error(err))
	}
	lg.Info("personas loaded", zap.Strings("characters", characters.Names()))

	// Initialize handlers
	opts := handlers.Options{
		Development: cfg.IsDevelopment(),
		Provider:    cfg.Provider,
		Generation:  genCfg,
	}
	if cfg.CacheEnabled {
		opts.Cache = cache.New(redisClient, cfg.CacheTTL)
		lg.Info("response cache enabled", zap.Duration("ttl", cfg.CacheTTL))
	}
	var usage handlers.UsageReader
	if db != nil {
		opts.Recorder = db
		usage = db
	}

	chatHandler := handlers.NewChatHandler(limiter, orch, characters, lg.Named("http"), opts)
	statusHandler := handlers.NewStatusHandler(credPool, usage, lg.Named("http"))

	requestTimeout := cfg.RequestTimeout()
	router := handlers.NewRouter(handlers.RouterConfig{
		CORSAllowOrigins: cfg.CORSAllowOrigins,
		StaticDir:        cfg.StaticDir,
		RequestTimeout:   requestTimeout,
	}, chatHandler, statusHandler, lg.Named("http"))

	// HTTP server
	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: requestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		lg.Info("server listening",
			zap.String("addr", "http://0.0.0.0:"+cfg.Port),
			zap.Int("credentials", credPool.Len()),
			zap.Duration("request_timeout", requestTimeout))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	lg.Info("shutting down gracefully")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("server shutdown error", zap.Error(err))
	}

	lg.Info("server stopped")
}
