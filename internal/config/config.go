package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config is the service configuration, read from the environment.
type Config struct {
	Port string

	// Auth
	APIKey string

	// Stage options file (YAML)
	StageConfigPath string

	// Worker pool
	WorkerCount         int
	MaxQueueSize        int
	MaxConcurrentEvents int

	// Request limits
	MaxBodyBytes   int64
	MaxBatchEvents int

	// Job state
	JobTTL time.Duration

	LogLevel string
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("XMLFILTER_API_KEY"),

		StageConfigPath: envOr("STAGE_CONFIG", "stage.yaml"),

		WorkerCount:         envInt("WORKER_COUNT", 4),
		MaxQueueSize:        envInt("MAX_QUEUE_SIZE", 100),
		MaxConcurrentEvents: envInt("MAX_CONCURRENT_EVENTS", 8),

		MaxBodyBytes:   envInt64("MAX_BODY_BYTES", 10485760), // 10MB
		MaxBatchEvents: envInt("MAX_BATCH_EVENTS", 10000),

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		LogLevel: envOr("LOG_LEVEL", "info"),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentEvents <= 0 {
		cfg.MaxConcurrentEvents = 8
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10485760
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = 10000
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("XMLFILTER_API_KEY is required")
	}
	if c.StageConfigPath == "" {
		return fmt.Errorf("STAGE_CONFIG is required")
	}
	return nil
}

// ParseLogLevel maps debug, info, warn and error to slog levels. Anything
// else is info.
func ParseLogLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
