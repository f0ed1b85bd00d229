// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrWatchDirRequired is returned when CAMSINK_WATCH_DIR is not set.
	ErrWatchDirRequired = errors.New("config: CAMSINK_WATCH_DIR is required")
	// ErrBucketRequired is returned when CAMSINK_BUCKET is not set.
	ErrBucketRequired = errors.New("config: CAMSINK_BUCKET is required")
)

// Config holds all configuration for the offload daemon. It is constructed
// once at startup and treated as immutable afterwards.
type Config struct {
	// Watch settings
	WatchDir         string   `env:"CAMSINK_WATCH_DIR, required" json:"watch_dir" validate:"required"`
	Extensions       []string `env:"CAMSINK_EXTENSIONS, default=.dat,.bvr,.avi,.mov,.jpg,.mp4" json:"extensions" validate:"min=1,dive,startswith=."`
	ExcludedPrefixes []string `env:"CAMSINK_EXCLUDED_PREFIXES" json:"excluded_prefixes,omitempty"`

	// Destination settings
	Bucket    string `env:"CAMSINK_BUCKET, required" json:"bucket" validate:"required"`
	KeyPrefix string `env:"CAMSINK_KEY_PREFIX, default=camera/" json:"key_prefix"`
	Region    string `env:"CAMSINK_REGION, default=us-east-1" json:"region" validate:"required"`
	Endpoint  string `env:"CAMSINK_ENDPOINT" json:"endpoint,omitempty"` // Optional: S3-compatible endpoint

	// Credentials (fall back to the default AWS chain when empty)
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Stability detection settings
	StableChecks int           `env:"CAMSINK_STABLE_CHECKS, default=3" json:"stable_checks" validate:"gte=1"`
	PollInterval time.Duration `env:"CAMSINK_POLL_INTERVAL, default=500ms" json:"poll_interval" validate:"gt=0"`
	MaxWait      time.Duration `env:"CAMSINK_MAX_WAIT, default=60s" json:"max_wait" validate:"gt=0"`

	// Upload retry settings
	MaxRetries  int           `env:"CAMSINK_MAX_RETRIES, default=3" json:"max_retries" validate:"gte=1"`
	BackoffBase time.Duration `env:"CAMSINK_BACKOFF_BASE, default=2s" json:"backoff_base" validate:"gt=0"`

	// Multipart transfer settings
	MultipartThresholdMB int `env:"CAMSINK_MULTIPART_THRESHOLD_MB, default=25" json:"multipart_threshold_mb" validate:"gte=5"`
	ChunkSizeMB          int `env:"CAMSINK_CHUNK_SIZE_MB, default=25" json:"chunk_size_mb" validate:"gte=5"`
	MaxConcurrency       int `env:"CAMSINK_MAX_CONCURRENCY, default=10" json:"max_concurrency" validate:"gte=1"`

	// Shutdown settings
	ShutdownGrace time.Duration `env:"CAMSINK_SHUTDOWN_GRACE, default=30s" json:"shutdown_grace" validate:"gt=0"`

	// Logging settings
	LogFormat string `env:"CAMSINK_LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"CAMSINK_LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(ctx, cfg); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "CAMSINK_WATCH_DIR") {
			return nil, ErrWatchDirRequired
		}
		if strings.Contains(err.Error(), "CAMSINK_BUCKET") {
			return nil, ErrBucketRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Validate checks structural constraints on the loaded configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// MultipartThresholdBytes returns the multipart threshold in bytes.
func (c *Config) MultipartThresholdBytes() int64 {
	return int64(c.MultipartThresholdMB) * 1024 * 1024
}

// ChunkSizeBytes returns the multipart chunk size in bytes.
func (c *Config) ChunkSizeBytes() int64 {
	return int64(c.ChunkSizeMB) * 1024 * 1024
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for running
// under a service manager. Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with credentials omitted.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{WatchDir: %s, Bucket: %s, KeyPrefix: %s, Region: %s, StableChecks: %d, PollInterval: %s, MaxWait: %s, MaxRetries: %d, BackoffBase: %s, MultipartThresholdMB: %d, ChunkSizeMB: %d, MaxConcurrency: %d, ShutdownGrace: %s, LogFormat: %s, LogLevel: %s}",
		c.WatchDir,
		c.Bucket,
		c.KeyPrefix,
		c.Region,
		c.StableChecks,
		c.PollInterval,
		c.MaxWait,
		c.MaxRetries,
		c.BackoffBase,
		c.MultipartThresholdMB,
		c.ChunkSizeMB,
		c.MaxConcurrency,
		c.ShutdownGrace,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
