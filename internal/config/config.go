package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the full environment-derived configuration. Every knob has a
// default; only DATABASE_URL is required.
type Config struct {
	Env         string
	HTTPAddr    string
	DatabaseURL string
	JWTSecret   string

	// Data layout
	DataDir     string
	SessionsDir string

	// Ingestion pipeline
	LogPath          string
	CheckpointPath   string
	DLQPath          string
	QueueCapacity    int
	BatchSize        int
	BatchMaxWait     time.Duration
	Workers          int
	RetryBase        time.Duration
	RetryMax         time.Duration
	RetryMaxAttempts int
	RetryMaxHorizon  time.Duration

	// Readiness: not ready once the queue holds this many records.
	ReadyMaxQueueDepth int

	// Tenant sessions
	QRWaitTimeout        time.Duration
	MaxReconnectAttempts int
}

// Load reads configuration from the environment. Defaults mirror the
// documented INGEST_* knobs; paths default into DataDir.
func Load() (*Config, error) {
	dataDir := env("DATA_DIR", "./data")

	cfg := &Config{
		Env:         env("ENV", "dev"),
		HTTPAddr:    env("HTTP_ADDR", ":8081"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   env("JWT_HS256_SECRET", "dev-secret-change-in-production"),

		DataDir:     dataDir,
		SessionsDir: env("SESSIONS_DIR", filepath.Join(dataDir, "sessions")),

		LogPath:          env("INGEST_LOG_PATH", filepath.Join(dataDir, "ingestion.log")),
		CheckpointPath:   env("INGEST_CHECKPOINT_PATH", filepath.Join(dataDir, "ingestion.offset")),
		DLQPath:          env("INGEST_DLQ_PATH", filepath.Join(dataDir, "dlq.log")),
		QueueCapacity:    envInt("INGEST_QUEUE_CAPACITY", 5000),
		BatchSize:        envInt("INGEST_BATCH_SIZE", 100),
		BatchMaxWait:     envMs("INGEST_BATCH_MAX_WAIT_MS", 250*time.Millisecond),
		Workers:          envInt("INGEST_WORKERS", 2),
		RetryBase:        envMs("INGEST_RETRY_BASE_MS", 100*time.Millisecond),
		RetryMax:         envMs("INGEST_RETRY_MAX_MS", 5*time.Second),
		RetryMaxAttempts: envInt("INGEST_RETRY_MAX_ATTEMPTS", 10),
		RetryMaxHorizon:  envMs("INGEST_RETRY_MAX_HORIZON_MS", 10*time.Minute),
	}

	// Readiness threshold defaults to 90% of queue capacity.
	cfg.ReadyMaxQueueDepth = envInt("INGEST_READY_MAX_QUEUE_DEPTH", cfg.QueueCapacity*9/10)

	cfg.QRWaitTimeout = envMs("SESSION_QR_WAIT_TIMEOUT_MS", 300*time.Second)
	cfg.MaxReconnectAttempts = envInt("SESSION_MAX_RECONNECT_ATTEMPTS", 5)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.QueueCapacity <= 0 || cfg.BatchSize <= 0 || cfg.Workers <= 0 {
		return nil, fmt.Errorf("queue capacity, batch size and workers must be positive")
	}

	return cfg, nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envMs(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}
