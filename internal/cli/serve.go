package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/levelup-learning/levelup-video/internal/database"
	"github.com/levelup-learning/levelup-video/internal/di"
)

func newServeCommand() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, lp, err := loadServerConfig(ctx)
			if err != nil {
				return err
			}
			a, err := di.InitializeApp(ctx, cfg, logger, lp)
			if err != nil {
				return err
			}
			if migrate {
				if err := database.Migrate(ctx, a.DB); err != nil {
					return err
				}
			}
			return a.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply schema migrations before serving")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, logger, _, err := loadServerConfig(ctx)
			if err != nil {
				return err
			}
			db, err := database.Open(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			}()
			if err := database.Migrate(ctx, db); err != nil {
				return err
			}
			logger.Info("migrations applied", "driver", cfg.DatabaseDriver)
			return nil
		},
	}
}
