package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	StorageS3    = "s3"
	StorageMinIO = "minio"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AWS       AWSConfig
	Storage   StorageConfig
	Analyzers AnalyzersConfig
	Worker    WorkerConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  int
	WriteTimeout int
	RateLimitRPS float64 // per client IP; 0 disables
	RateBurst    int
	MaxBodyBytes int64
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/echoguard?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AWSConfig holds AWS credentials and the pipeline buckets.
type AWSConfig struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	Endpoint         string // optional S3-compatible endpoint (localstack)
	AudioBucket      string
	TranscriptBucket string
	PresignExpire    time.Duration
}

// StorageConfig selects the object store driver.
type StorageConfig struct {
	Driver         string // s3 | minio
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool
}

// AnalyzersConfig configures the two compliance analyzers.
type AnalyzersConfig struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	RulesEndpoint string
	RulesAPIKey   string
	RulesIndustry string
	Timeout       time.Duration
}

// WorkerConfig holds pipeline worker settings.
type WorkerConfig struct {
	Concurrency    int // goroutines per topic
	HandlerTimeout time.Duration
	PollTimeout    time.Duration
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string // empty exports to stdout
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout: getEnvInt("WRITE_TIMEOUT_SEC", 30),
			RateLimitRPS: getEnvFloat("RATE_LIMIT_RPS", 20),
			RateBurst:    getEnvInt("RATE_LIMIT_BURST", 40),
			MaxBodyBytes: int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "echoguard"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:           getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:         getEnv("AWS_S3_ENDPOINT", ""),
			AudioBucket:      getEnv("AWS_S3_AUDIO_BUCKET", "echoguard-audio"),
			TranscriptBucket: getEnv("AWS_S3_TRANSCRIPT_BUCKET", "echoguard-transcripts"),
			PresignExpire:    time.Duration(getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 5)) * time.Minute,
		},
		Storage: StorageConfig{
			Driver:         strings.ToLower(getEnv("STORAGE_DRIVER", StorageS3)),
			MinIOEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			MinIOSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			MinIOUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Analyzers: AnalyzersConfig{
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			RulesEndpoint: getEnv("RULES_API_ENDPOINT", ""),
			RulesAPIKey:   getEnv("RULES_API_KEY", ""),
			RulesIndustry: getEnv("RULES_INDUSTRY", "financial"),
			Timeout:       time.Duration(getEnvInt("ANALYZER_TIMEOUT_SEC", 60)) * time.Second,
		},
		Worker: WorkerConfig{
			Concurrency:    getEnvInt("WORKER_CONCURRENCY", 4),
			HandlerTimeout: time.Duration(getEnvInt("HANDLER_TIMEOUT_SEC", 180)) * time.Second,
			PollTimeout:    time.Duration(getEnvInt("WORKER_POLL_TIMEOUT_SEC", 5)) * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:      getEnvBool("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "echoguard"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageS3, StorageMinIO:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", StorageS3, StorageMinIO, c.Storage.Driver)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", c.Worker.Concurrency)
	}
	if c.Analyzers.Timeout <= 0 || c.Worker.HandlerTimeout <= 0 {
		return fmt.Errorf("ANALYZER_TIMEOUT_SEC and HANDLER_TIMEOUT_SEC must be positive")
	}
	if c.Worker.HandlerTimeout <= c.Analyzers.Timeout {
		return fmt.Errorf("HANDLER_TIMEOUT_SEC (%s) must exceed ANALYZER_TIMEOUT_SEC (%s)", c.Worker.HandlerTimeout, c.Analyzers.Timeout)
	}
	if c.AWS.AudioBucket == "" || c.AWS.TranscriptBucket == "" {
		return fmt.Errorf("AWS_S3_AUDIO_BUCKET and AWS_S3_TRANSCRIPT_BUCKET are required")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
