package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/levelup-learning/levelup-video/internal/security"
)

// newTokenCommand mints a session JWT for local testing of the API and the
// play command. Production sessions come from the auth provider.
func newTokenCommand() *cobra.Command {
	var (
		userID string
		roles  []string
		perms  []string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			cfg, _, _, err := loadServerConfig(context.Background())
			if err != nil {
				return err
			}
			if cfg.IsProduction() {
				return fmt.Errorf("refusing to mint session tokens in production")
			}
			raw, err := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret).SignAccessToken(userID, roles, perms, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), raw)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (sub claim)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim, repeatable")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "permission claim, repeatable (e.g. tracking:read)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
