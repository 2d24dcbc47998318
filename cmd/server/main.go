// Package main runs the EchoGuard HTTP server: upload, read API, ingress webhooks and
// the notification WebSocket, with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/echoguard/backend/config"
	"github.com/echoguard/backend/internal/health"
	"github.com/echoguard/backend/internal/middleware"
	"github.com/echoguard/backend/internal/observability"
	"github.com/echoguard/backend/internal/pipeline"
	"github.com/echoguard/backend/internal/realtime"
	"github.com/echoguard/backend/internal/recordings"
	"github.com/echoguard/backend/internal/results"
	"github.com/echoguard/backend/pkg/database"
	"github.com/echoguard/backend/pkg/queue"
	"github.com/echoguard/backend/pkg/redis"
	"github.com/echoguard/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		Component:    "server",
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	store, err := storage.Open(ctx, cfg.Storage.Driver, s3Config(cfg), minioConfig(cfg), logger, cfg.AWS.AudioBucket, cfg.AWS.TranscriptBucket)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}

	recordingRepo := recordings.NewRepository(pool)
	resultRepo := results.NewRepository(pool)
	bus := queue.NewQueue(rdb.Client, logger)

	// The server only runs the upload stage; the worker owns every other transition.
	uploads := pipeline.New(pipeline.Deps{
		Status:    recordingRepo,
		Results:   resultRepo,
		Objects:   store,
		Signer:    store,
		Publisher: bus,
	}, pipeline.Config{
		AudioBucket:      cfg.AWS.AudioBucket,
		TranscriptBucket: cfg.AWS.TranscriptBucket,
		UploadURLExpiry:  cfg.AWS.PresignExpire,
	}, logger)

	recordingHandler := recordings.NewHandler(recordingRepo, resultRepo, uploads, logger)
	webhookHandler := recordings.NewWebhookHandler(bus, logger)
	healthHandler := health.NewHandler(map[string]health.Check{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}, logger)

	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub)

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateBurst)
	defer limiter.Stop()

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Telemetry.Enabled {
		router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	}
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(logger))

	router.GET("/health", healthHandler.Serve)

	api := router.Group("")
	api.Use(limiter.Middleware(), middleware.BodyLimit(cfg.Server.MaxBodyBytes))
	{
		api.POST("/recordings", recordingHandler.Upload)
		api.GET("/recordings/:recordingId", recordingHandler.Get)
		api.GET("/users/:userId/recordings", recordingHandler.ListByUser)
	}

	// Storage and transcription notifications; they only publish to the bus.
	webhooks := router.Group("/webhooks")
	webhooks.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))
	{
		webhooks.POST("/audio-uploaded", webhookHandler.AudioUploaded)
		webhooks.POST("/transcription-status", webhookHandler.TranscriptionStatus)
	}

	router.GET("/ws/notifications", realtime.ServeWs(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func s3Config(cfg *config.Config) storage.S3Config {
	return storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Endpoint:        cfg.AWS.Endpoint,
	}
}

func minioConfig(cfg *config.Config) storage.MinIOConfig {
	return storage.MinIOConfig{
		Endpoint:  cfg.Storage.MinIOEndpoint,
		Region:    cfg.AWS.Region,
		AccessKey: cfg.Storage.MinIOAccessKey,
		SecretKey: cfg.Storage.MinIOSecretKey,
		UseSSL:    cfg.Storage.MinIOUseSSL,
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if l, err := zapcore.ParseLevel(lvl); err == nil {
			config.Level = zap.NewAtomicLevelAt(l)
		}
	}
	logger, _ := config.Build()
	return logger
}
