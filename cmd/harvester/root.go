package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-harvester/internal/admission"
	"github.com/JakeFAU/scholar-harvester/internal/config"
	"github.com/JakeFAU/scholar-harvester/internal/harvest"
	"github.com/JakeFAU/scholar-harvester/internal/logging"
	"github.com/JakeFAU/scholar-harvester/internal/server"
)

// application is the part of server.App the commands use.
type application interface {
	Run(ctx context.Context) error
	RunOnce(ctx context.Context) (harvest.BatchSummary, error)
	Purge(ctx context.Context) (int, error)
	Status(ctx context.Context) (admission.Status, error)
	Close() error
}

// newApp is a variable so tests can substitute the application.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (application, error) {
	return server.Build(ctx, cfg, logger)
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "harvester",
		Short:         "Schedules and supervises scholarly-metadata harvesting runs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newRunOnceCmd(opts),
		newPurgeCmd(opts),
		newStatusCmd(opts),
		newClassifyCmd(),
	)
	return cmd
}

// withApp loads config, builds the logger and the application, runs fn, and releases
// everything afterwards. needAgent rejects configs without an agent command.
func withApp(
	cmd *cobra.Command,
	opts *rootOptions,
	needAgent bool,
	fn func(ctx context.Context, app application, logger *zap.Logger) error,
) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if needAgent {
		if err := cfg.RequireAgent(); err != nil {
			return err
		}
	}
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	//nolint:errcheck // stderr sync fails on some terminals
	defer logger.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			logger.Warn("close failed", zap.Error(cerr))
		}
	}()
	return fn(ctx, app, logger)
}
