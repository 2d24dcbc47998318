// Package main runs the pipeline worker: transcription trigger and completion, analysis,
// and notification fan-out.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/echoguard/backend/config"
	"github.com/echoguard/backend/internal/analyzers"
	"github.com/echoguard/backend/internal/observability"
	"github.com/echoguard/backend/internal/pipeline"
	"github.com/echoguard/backend/internal/realtime"
	"github.com/echoguard/backend/internal/recordings"
	"github.com/echoguard/backend/internal/results"
	"github.com/echoguard/backend/internal/transcriber"
	"github.com/echoguard/backend/internal/worker"
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
		Component:    "worker",
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

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Cfg := storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Endpoint:        cfg.AWS.Endpoint,
	}
	store, err := storage.Open(ctx, cfg.Storage.Driver, s3Cfg, storage.MinIOConfig{
		Endpoint:  cfg.Storage.MinIOEndpoint,
		Region:    cfg.AWS.Region,
		AccessKey: cfg.Storage.MinIOAccessKey,
		SecretKey: cfg.Storage.MinIOSecretKey,
		UseSSL:    cfg.Storage.MinIOUseSSL,
	}, logger, cfg.AWS.AudioBucket, cfg.AWS.TranscriptBucket)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}

	awsCfg, err := storage.LoadAWSConfig(ctx, s3Cfg, logger)
	if err != nil {
		logger.Fatal("aws config", zap.Error(err))
	}

	if cfg.Analyzers.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY not set; the LLM analyzer will degrade every verdict")
	}
	if cfg.Analyzers.RulesEndpoint == "" {
		logger.Warn("RULES_API_ENDPOINT not set; the rules analyzer will degrade every verdict")
	}

	bus := queue.NewQueue(rdb.Client, logger)
	p := pipeline.New(pipeline.Deps{
		Status:      recordings.NewRepository(pool),
		Results:     results.NewRepository(pool),
		Objects:     store,
		Signer:      store,
		Publisher:   bus,
		Transcriber: transcriber.NewAWS(awsCfg, logger),
		AnalyzerA: analyzers.NewLLM(analyzers.LLMConfig{
			APIKey:  cfg.Analyzers.OpenAIAPIKey,
			BaseURL: cfg.Analyzers.OpenAIBaseURL,
			Model:   cfg.Analyzers.OpenAIModel,
		}),
		AnalyzerB: analyzers.NewRules(analyzers.RulesConfig{
			Endpoint: cfg.Analyzers.RulesEndpoint,
			APIKey:   cfg.Analyzers.RulesAPIKey,
			Industry: cfg.Analyzers.RulesIndustry,
		}),
	}, pipeline.Config{
		AudioBucket:      cfg.AWS.AudioBucket,
		TranscriptBucket: cfg.AWS.TranscriptBucket,
		UploadURLExpiry:  cfg.AWS.PresignExpire,
		AnalyzerTimeout:  cfg.Analyzers.Timeout,
	}, logger)
	notifier := realtime.NewNotifier(realtime.NewRedisPubSub(rdb.Client, logger))

	w := worker.New(bus, worker.Options{
		Concurrency:    cfg.Worker.Concurrency,
		HandlerTimeout: cfg.Worker.HandlerTimeout,
		PollTimeout:    cfg.Worker.PollTimeout,
	}, logger)
	worker.Register(w, p, notifier)

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(workerCtx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		cancel()
		// Running handlers drain within HandlerTimeout; anything still unsettled is recovered on the next start.
		select {
		case err = <-done:
		case <-time.After(cfg.Worker.HandlerTimeout + cfg.Worker.PollTimeout):
			logger.Warn("worker did not stop in time")
		}
	case err = <-done:
		cancel()
	}
	if err != nil {
		logger.Error("worker", zap.Error(err))
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	logger.Info("worker stopped")
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
