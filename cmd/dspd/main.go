package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/michaelpoluektov/dspd/internal/application/orchestrator"
	"github.com/michaelpoluektov/dspd/internal/config"
	"github.com/michaelpoluektov/dspd/internal/ports"
	memoryevents "github.com/michaelpoluektov/dspd/pkg/adapters/events/memory"
	redisevents "github.com/michaelpoluektov/dspd/pkg/adapters/events/redis"
	"github.com/michaelpoluektov/dspd/pkg/adapters/metrics/prometheus"
	"github.com/michaelpoluektov/dspd/pkg/adapters/pipeline"
	memorystorage "github.com/michaelpoluektov/dspd/pkg/adapters/storage/memory"
	redisstorage "github.com/michaelpoluektov/dspd/pkg/adapters/storage/redis"
	"github.com/michaelpoluektov/dspd/pkg/api/http"
	"github.com/michaelpoluektov/dspd/pkg/api/websocket"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting dspd",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("storage", cfg.StorageBackend))

	ctx := context.Background()

	// Initialize storage backend
	var (
		store       ports.SessionStore
		redisClient *goredis.Client
	)
	switch cfg.StorageBackend {
	case "redis":
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
		store = redisstorage.NewStore(redisClient, logger)
	default:
		store = memorystorage.NewStore()
	}

	metricsCollector := prometheus.NewCollector()

	// Initialize the update fan-out. With Redis storage the local
	// broadcaster is wrapped in a pub/sub relay so replicas see each
	// other's mutations.
	local := memoryevents.NewBroadcaster(store, metricsCollector, logger, cfg.Limits.SubscriberBuffer)
	var broadcaster ports.Broadcaster = local
	if redisClient != nil {
		relay, err := redisevents.NewRelay(redisClient, local, logger)
		if err != nil {
			logger.Fatal("failed to start update relay", zap.Error(err))
		}
		broadcaster = relay
	}

	// Initialize the pipeline compiler
	compiler := pipeline.New(logger)

	// Initialize application components
	orchestratorMgr := orchestrator.NewManager(&orchestrator.Config{
		Store:                   store,
		Compiler:                compiler,
		Stages:                  compiler,
		Broadcaster:             broadcaster,
		Metrics:                 metricsCollector,
		Logger:                  logger,
		ExecutionTimeout:        cfg.Timeouts.ExecutionTimeout,
		MaxConcurrentExecutions: cfg.Limits.MaxConcurrentExecutions,
	})

	// Initialize API server
	httpServer := http.NewServer(&http.Config{
		Port:           cfg.HTTPPort,
		Orchestrator:   orchestratorMgr,
		Logger:         logger,
		MaxUploadBytes: cfg.Limits.MaxUploadBytes,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(store, broadcaster, logger)
	httpServer.SetupWebSocket(wsHandler)

	// Start server
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	logger.Info("dspd started", zap.Int("http_port", cfg.HTTPPort))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := broadcaster.Close(); err != nil {
		logger.Error("broadcaster shutdown error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("dspd shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
