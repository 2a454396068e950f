package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/goldenpath/internal/config"
	"github.com/roach88/goldenpath/internal/launcher"
)

// LaunchOptions holds flags for the launch command.
type LaunchOptions struct {
	*RootOptions
	Config string
}

// NewLaunchCommand creates the launch command.
func NewLaunchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LaunchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Supervise the configured services",
		Long: `Start every service from the launcher config and supervise it until
interrupted. Crashed services are diagnosed, their crash reports persisted,
a recovery action applied when the environment permits, and restarted with
capped backoff up to max_restarts.

Examples:
  goldenpath launch
  goldenpath launch --config goldenpath.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "config file (defaults to the layered lookup)")

	return cmd
}

func runLaunch(opts *LaunchOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := loadLaunchConfig(opts.Config)
	if err != nil {
		return formatter.Error(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}

	st, err := openStore(formatter, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	l := launcher.New(cfg.Launcher, cfg.Environment, st,
		launcher.WithLauncherLogger(slog.Default()),
	)

	formatter.Textf("supervising %d service(s) in %s environment\n",
		len(cfg.Launcher.Services), cfg.Environment)

	if err := l.Run(ctx); err != nil {
		return formatter.Error(ExitFailure, ErrCodeLaunch, err.Error(), nil)
	}

	return nil
}

// loadLaunchConfig loads either the named config file or the layered
// default chain, then validates it.
func loadLaunchConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load(slog.Default())
}
