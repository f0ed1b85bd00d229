package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"camsink/internal/bootstrap"
	"camsink/internal/config"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch the recorder directory and offload new files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

func runDaemon(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting camsink",
		slog.String("watch_dir", cfg.WatchDir),
		slog.String("bucket", cfg.Bucket),
		slog.String("key_prefix", cfg.KeyPrefix),
		slog.Int("stable_checks", cfg.StableChecks),
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Int("max_retries", cfg.MaxRetries),
		slog.Duration("backoff_base", cfg.BackoffBase),
		slog.Int("multipart_threshold_mb", cfg.MultipartThresholdMB),
	)

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	// SIGINT/SIGTERM stop event intake; in-flight uploads get the grace period.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("watching for new files",
		slog.String("dir", cfg.WatchDir),
		slog.String("destination", fmt.Sprintf("s3://%s/%s", cfg.Bucket, cfg.KeyPrefix)),
	)

	deps.Pipeline.Run(ctx, deps.Watcher.Events())

	logger.Info("shutting down",
		slog.Duration("grace", cfg.ShutdownGrace),
		slog.Int("in_flight", deps.Pipeline.InFlight()),
	)

	if err := deps.Watcher.Close(); err != nil {
		logger.Warn("watcher close failed", slog.String("error", err.Error()))
	}
	deps.Pipeline.Shutdown()

	logger.Info("stopped")
	return nil
}
