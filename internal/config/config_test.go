package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "XMLFILTER_API_KEY", "STAGE_CONFIG", "WORKER_COUNT", "MAX_QUEUE_SIZE", "JOB_TTL", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, "stage.yaml", cfg.StageConfigPath)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, time.Hour, cfg.JobTTL)
	assert.Error(t, cfg.Validate(), "API key is required")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("XMLFILTER_API_KEY", "secret")
	t.Setenv("WORKER_COUNT", "9")
	t.Setenv("MAX_QUEUE_SIZE", "-3")
	t.Setenv("JOB_TTL", "15m")
	t.Setenv("MAX_BODY_BYTES", "not-a-number")

	cfg := Load()
	assert.Equal(t, 9, cfg.WorkerCount)
	assert.Equal(t, 100, cfg.MaxQueueSize, "negative queue size falls back to the default")
	assert.Equal(t, 15*time.Minute, cfg.JobTTL)
	assert.Equal(t, int64(10485760), cfg.MaxBodyBytes)
	assert.NoError(t, cfg.Validate())
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), "level %q", in)
	}
}
