// Package cli holds the levelup command tree.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/levelup-learning/levelup-video/internal/config"
	"github.com/levelup-learning/levelup-video/internal/observability"
)

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "levelup",
		Short:         "Secure video delivery core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newTokenCommand(),
		newPlayCommand(),
		newLoadgenCommand(),
	)
	return cmd
}

// loadServerConfig returns the validated config and process logger. The
// logger provider is nil unless OTEL_LOGS_ENABLED is set.
func loadServerConfig(ctx context.Context) (*config.Config, *slog.Logger, *sdklog.LoggerProvider, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, lp, err := observability.NewLogger(ctx, cfg, os.Stdout)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, lp, nil
}
