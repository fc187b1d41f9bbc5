package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, the queue consumer and the ops HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, true, func(ctx context.Context, app application, _ *zap.Logger) error {
				return app.Run(ctx)
			})
		},
	}
}

func newRunOnceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Run a single batch in the foreground and print its summary",
		Long: `run-once admits a manual batch, ignoring the minimum interval but refusing
when another job is waiting or active, runs it to completion and prints the
batch summary as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, true, func(ctx context.Context, app application, logger *zap.Logger) error {
				summary, err := app.RunOnce(ctx)
				if err != nil {
					return fmt.Errorf("run batch: %w", err)
				}
				if summary.Unsuccessful() > 0 {
					logger.Warn("batch finished with unsuccessful targets", zap.Int("unsuccessful", summary.Unsuccessful()))
				}
				return printJSON(cmd, summary)
			})
		},
	}
}

func newPurgeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Discard every job in the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, false, func(ctx context.Context, app application, _ *zap.Logger) error {
				n, err := app.Purge(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int{"removed": n})
			})
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the last run start, time remaining and queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, false, func(ctx context.Context, app application, _ *zap.Logger) error {
				st, err := app.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
