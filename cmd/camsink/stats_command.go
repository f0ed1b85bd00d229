package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"camsink/internal/bootstrap"
	"camsink/internal/config"
	"camsink/internal/storage"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize what has been offloaded to the bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(ctx)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			transfer, err := bootstrap.NewTransferer(ctx, cfg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Analyzing s3://%s/%s ...\n\n", cfg.Bucket, cfg.KeyPrefix)

			stats, err := transfer.Stats(ctx, cfg.KeyPrefix)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), renderStats(stats))
			return nil
		},
	}
}

// renderStats formats bucket statistics: a summary block followed by a
// per-extension breakdown sorted by size, largest first.
func renderStats(stats *storage.ObjectStats) string {
	if stats.TotalObjects == 0 {
		return "No objects found under the configured prefix.\n"
	}

	summary := fmt.Sprintf(
		"Objects: %d\nTotal size: %s\nOldest: %s (%s)\nNewest: %s (%s)\n\n",
		stats.TotalObjects,
		humanize.IBytes(uint64(stats.TotalBytes)),
		stats.OldestKey,
		stats.OldestModified.Format("2006-01-02 15:04:05"),
		stats.NewestKey,
		stats.NewestModified.Format("2006-01-02 15:04:05"),
	)

	exts := make([]string, 0, len(stats.ByExtension))
	for ext := range stats.ByExtension {
		exts = append(exts, ext)
	}
	sort.Slice(exts, func(i, j int) bool {
		return stats.ByExtension[exts[i]].Bytes > stats.ByExtension[exts[j]].Bytes
	})

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Extension", "Count", "Size"})
	for _, ext := range exts {
		es := stats.ByExtension[ext]
		tw.AppendRow(table.Row{ext, es.Count, humanize.IBytes(uint64(es.Bytes))})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})

	return summary + tw.Render() + "\n"
}
