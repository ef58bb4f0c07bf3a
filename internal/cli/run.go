package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/offsync/internal/control"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Addr      string // overrides control.addr
	NoControl bool   // skip the control API
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Long: `Run the offline sync daemon.

Starts the replay scheduler, the connectivity prober, the local control
API, and the push stream listener when push.stream_url is set. Runs until
interrupted.

Example:
  offsync run --config offsync.yaml
  offsync run --db ./offsync.db --addr 127.0.0.1:9000 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "control API listen address (overrides control.addr)")
	cmd.Flags().BoolVar(&opts.NoControl, "no-control", false, "do not start the control API")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	e, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	addr := e.cfg.Control.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.manager.Run(ctx) })
	if !opts.NoControl && addr != "" {
		h := control.NewServer(e.manager, e.manager.Deliverer(), e.logger)
		g.Go(func() error { return control.Serve(ctx, addr, h, e.logger) })
	}

	e.logger.Info("daemon starting",
		"db", e.cfg.StorePath,
		"api", e.cfg.APIBaseURL,
		"control", addr,
		"push_stream", e.cfg.Push.StreamURL != "",
	)
	fmt.Fprintln(cmd.OutOrStdout(), "offsync running. Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "daemon error", err)
	}

	e.logger.Info("daemon stopped gracefully")
	return nil
}
