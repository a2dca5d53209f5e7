package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/costwise/costwise/internal/application/health"
	"github.com/costwise/costwise/internal/application/orchestrator"
	"github.com/costwise/costwise/internal/config"
	"github.com/costwise/costwise/internal/domain"
	"github.com/costwise/costwise/internal/ports"
	minioblob "github.com/costwise/costwise/pkg/adapters/blob/minio"
	redisevents "github.com/costwise/costwise/pkg/adapters/events/redis"
	"github.com/costwise/costwise/pkg/adapters/metrics/prometheus"
	"github.com/costwise/costwise/pkg/adapters/report"
	redisstorage "github.com/costwise/costwise/pkg/adapters/storage/redis"
	"github.com/costwise/costwise/pkg/api/http"
	"github.com/costwise/costwise/pkg/api/websocket"
	"github.com/costwise/costwise/pkg/collectors/stub"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

const snapshotTTL = 30 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting costwise orchestrator",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	redisClient := goredis.NewClient(&goredis.Options{
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

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	eventBus := redisevents.NewStreamsBus(
		redisClient,
		"costwise-consumers",
		fmt.Sprintf("costwise-%d", os.Getpid()),
		logger,
	)

	snapshots := redisstorage.NewSnapshotStore(redisClient, snapshotTTL, logger)

	blobs, err := minioblob.NewBlobStore(ctx, cfg.Blob, logger)
	if err != nil {
		logger.Fatal("failed to create blob store", zap.Error(err))
	}

	generator, err := report.NewGenerator(cfg.Report, logger)
	if err != nil {
		logger.Fatal("failed to create report generator", zap.Error(err))
	}

	metricsCollector := prometheus.NewCollector()

	// Register one collector per collaborator the task catalog names.
	// Stub collectors stand in until real provider clients are plugged.
	registry := orchestrator.NewRegistry()
	collectors := make(map[string]ports.Collector)
	for _, spec := range domain.Catalog() {
		if _, ok := collectors[spec.Collaborator]; ok {
			continue
		}
		c := stub.New(spec.Collaborator, 0)
		collectors[spec.Collaborator] = c
		registry.Register(spec.Collaborator, c)
	}

	entryPoint, err := orchestrator.NewEntryPoint(orchestrator.EntryPointConfig{
		Config:    cfg,
		Registry:  registry,
		Snapshots: snapshots,
		Blobs:     blobs,
		Events:    eventBus,
		Metrics:   metricsCollector,
		Generator: generator,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("invalid task catalog", zap.Error(err))
	}

	monitor := health.NewMonitor(collectors, 30*time.Second, logger)
	monitor.Start()

	httpServer := http.NewServer(&http.Config{
		Port:       cfg.HTTPPort,
		EntryPoint: entryPoint,
		Snapshots:  snapshots,
		Monitor:    monitor,
		Logger:     logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(eventBus, logger))

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	logger.Info("costwise orchestrator started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Duration("invocation_budget", cfg.Budget.InvocationBudget))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	monitor.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if err := redisClient.Close(); err != nil {
		logger.Error("Redis close error", zap.Error(err))
	}

	logger.Info("costwise orchestrator shut down complete")
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
