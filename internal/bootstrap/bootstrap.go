// Package bootstrap provides dependency initialization for the camsink daemon.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"camsink/internal/config"
	"camsink/internal/pipeline"
	"camsink/internal/stability"
	"camsink/internal/storage"
	"camsink/internal/uploader"
	"camsink/internal/watcher"
)

// Dependencies holds the fully wired object graph for the daemon.
type Dependencies struct {
	Transfer *storage.S3Transferer
	Detector *stability.Detector
	Driver   *uploader.Driver
	Watcher  *watcher.Watcher
	Pipeline *pipeline.Pipeline
}

// NewTransferer builds the S3 transferer from configuration. Shared by the
// daemon and the stats command.
func NewTransferer(ctx context.Context, cfg *config.Config) (*storage.S3Transferer, error) {
	transfer, err := storage.NewS3Transferer(ctx, storage.S3Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		Transfer: storage.TransferOptions{
			MultipartThresholdBytes: cfg.MultipartThresholdBytes(),
			ChunkSizeBytes:          cfg.ChunkSizeBytes(),
			MaxConcurrency:          cfg.MaxConcurrency,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 transferer: %w", err)
	}
	return transfer, nil
}

// NewDependencies creates and initializes all daemon dependencies. Startup
// preflights run here: the watch directory must exist and the bucket must be
// reachable, otherwise the process should not start.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	info, err := os.Stat(cfg.WatchDir)
	if err != nil {
		return nil, fmt.Errorf("watch directory %s: %w", cfg.WatchDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch directory %s: not a directory", cfg.WatchDir)
	}

	transfer, err := NewTransferer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := transfer.CheckBucket(ctx); err != nil {
		return nil, fmt.Errorf("bucket preflight: %w", err)
	}
	logger.Info("bucket_reachable", slog.String("bucket", cfg.Bucket))

	detector := stability.New(cfg.PollInterval, cfg.StableChecks, cfg.MaxWait, logger)
	driver := uploader.NewDriver(transfer, cfg.WatchDir, cfg.KeyPrefix, cfg.MaxRetries, cfg.BackoffBase,
		uploader.WithLogger(logger),
	)
	pipe := pipeline.New(detector, driver, cfg.ShutdownGrace, logger)

	w, err := watcher.New(cfg.WatchDir, cfg.Extensions, cfg.ExcludedPrefixes, logger)
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	return &Dependencies{
		Transfer: transfer,
		Detector: detector,
		Driver:   driver,
		Watcher:  w,
		Pipeline: pipe,
	}, nil
}
