package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/levelup-learning/levelup-video/internal/apiclient"
	"github.com/levelup-learning/levelup-video/internal/player"
	"github.com/levelup-learning/levelup-video/internal/player/headless"
	"github.com/levelup-learning/levelup-video/internal/streaming"
	"github.com/levelup-learning/levelup-video/internal/tools/common"
	"github.com/levelup-learning/levelup-video/internal/tools/ui"
)

type playOptions struct {
	envFile     string
	apiURL      string
	session     string
	fingerprint string
	progressive bool
	ci          bool
	timeout     time.Duration
}

func newPlayCommand() *cobra.Command {
	opts := &playOptions{}
	cmd := &cobra.Command{
		Use:   "play VIDEO_ID",
		Short: "Play a video headlessly through the API and the streaming edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := common.LoadEnvFile(opts.envFile); err != nil {
				return err
			}
			if opts.apiURL == "" {
				opts.apiURL = common.EnvOr("LEVELUP_API_URL", "http://localhost:8080")
			}
			if opts.session == "" {
				opts.session = os.Getenv("LEVELUP_SESSION")
			}
			if opts.session == "" {
				return fmt.Errorf("a session token is required (--session or LEVELUP_SESSION)")
			}
			return runPlay(cmd.Context(), opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "env file with LEVELUP_API_URL and LEVELUP_SESSION")
	cmd.Flags().StringVar(&opts.apiURL, "api-url", "", "API base URL")
	cmd.Flags().StringVar(&opts.session, "session", "", "session JWT")
	cmd.Flags().StringVar(&opts.fingerprint, "fingerprint", "", "device fingerprint reported to the login hook")
	cmd.Flags().BoolVar(&opts.progressive, "progressive", false, "pretend adaptive streaming is unsupported")
	cmd.Flags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "give up after this long in --ci mode")
	return cmd
}

func runPlay(ctx context.Context, opts *playOptions, videoID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client, err := apiclient.New(apiclient.Options{BaseURL: opts.apiURL, Session: opts.session, Logger: logger})
	if err != nil {
		return err
	}

	if opts.fingerprint != "" {
		login, err := client.RecordLogin(ctx, opts.fingerprint)
		if err != nil {
			return fmt.Errorf("device login: %w", err)
		}
		if login.Blocked {
			return fmt.Errorf("account blocked after %d device switches", login.DeviceSwitchCount)
		}
	}

	rt := player.NewRuntime(client, client, client,
		headless.Factory(&http.Client{Timeout: 30 * time.Second}, logger),
		player.Config{
			AutoPlay:     true,
			Capabilities: streaming.Capabilities{AdaptiveLibrary: !opts.progressive},
		}, logger)
	defer rt.Close()
	changes := rt.Subscribe()

	if opts.ci {
		return playCI(ctx, rt, changes, videoID, opts.timeout)
	}

	go func() { _ = rt.Load(ctx, videoID) }()
	final, err := ui.RunPlayback(videoID, rt, changes)
	if err != nil {
		return err
	}
	if perr := rt.Err(); perr != nil && (final == player.Denied || final == player.Errored) {
		return fmt.Errorf("%s", perr.Message())
	}
	return nil
}

func playCI(ctx context.Context, rt *player.Runtime, changes <-chan player.StateChange, videoID string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var details []string
	loadErr := rt.Load(ctx, videoID)
	for {
		select {
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			details = append(details, fmt.Sprintf("%s -> %s", change.From, change.To))
			if change.To.Terminal() {
				var err error
				if change.Err != nil {
					err = change.Err
				}
				details = append(details, fmt.Sprintf("position=%s variant=%s", rt.Position().Truncate(time.Second), rt.Variant()))
				common.PrintCIResult(change.To == player.Ended, "play "+videoID, details, err)
				return err
			}
		case <-ctx.Done():
			err := ctx.Err()
			if loadErr != nil {
				err = loadErr
			}
			common.PrintCIResult(false, "play "+videoID, details, err)
			return err
		}
	}
}
