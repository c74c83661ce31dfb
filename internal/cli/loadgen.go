package cli

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/levelup-learning/levelup-video/internal/tools/common"
	"github.com/levelup-learning/levelup-video/internal/tools/loadgen"
	"github.com/levelup-learning/levelup-video/internal/tools/ui"
)

func newLoadgenCommand() *cobra.Command {
	cfg := loadgen.Config{}
	var ci bool
	cmd := &cobra.Command{
		Use:   "loadgen VIDEO_ID",
		Short: "Generate token issuance and edge authorize traffic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.VideoID = args[0]
			if cfg.Session == "" {
				cfg.Session = os.Getenv("LEVELUP_SESSION")
			}
			title := "loadgen " + cfg.VideoID + " profile=" + cfg.Profile
			run := func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				return res.Details(), nil
			}
			if ci {
				details, err := run(context.Background())
				common.PrintCIResult(err == nil, title, details, err)
				return err
			}
			_, err := ui.Run(title, run)
			return err
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", common.EnvOr("LEVELUP_API_URL", "http://localhost:8080"), "API base URL")
	cmd.Flags().StringVar(&cfg.Session, "session", "", "session JWT (default LEVELUP_SESSION)")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "token, authorize or mixed")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "how long to generate traffic")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 20, "requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "parallel workers")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", 42, "seed for the mixed profile")
	cmd.Flags().BoolVar(&ci, "ci", false, "non-interactive machine-readable output")
	return cmd
}
