package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/engine"
)

// DrainOptions holds flags for the drain command.
type DrainOptions struct {
	*RootOptions
	Probe bool // skip the pass when the API is unreachable
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DrainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Run one replay pass and exit",
		Long: `Replay every pending queue item once and exit.

Intended for a platform timer (cron, systemd timer, launchd) that wakes
the queue while the app is not running. A pass already in flight in
another process is not duplicated.

Exit codes:
  0 - Pass finished (item failures are reported, not fatal)
  1 - Pass aborted by a storage error
  2 - Command error (bad config, database not found)

Examples:
  offsync drain --db ./offsync.db
  offsync drain --config offsync.toml --probe --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Probe, "probe", false, "probe connectivity first and skip the pass when offline")

	return cmd
}

func runDrain(opts *DrainOptions, cmd *cobra.Command) error {
	e, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if opts.Probe {
		if p := e.manager.Prober(); p != nil && !p.Probe(ctx) {
			e.out.VerboseLog("API unreachable, skipping pass")
			return e.out.Success(map[string]any{"skipped": true, "reason": "offline"}, func(w io.Writer) {
				fmt.Fprintln(w, "Offline, pass skipped.")
			})
		}
	}

	res, err := e.manager.SyncNow(ctx)
	if err != nil {
		return e.out.Fail(ExitFailure, drainErrorCode(err), "drain pass aborted", err)
	}
	return e.out.Success(res, func(w io.Writer) { printResult(w, res) })
}

// drainErrorCode separates store failures from other aborted passes.
func drainErrorCode(err error) string {
	if engine.IsStorageError(err) {
		return ErrCodeStore
	}
	return ErrCodeSync
}

func printResult(w io.Writer, res engine.Result) {
	if res.Coalesced {
		fmt.Fprintln(w, "A pass is already running; nothing to do.")
		return
	}
	fmt.Fprintf(w, "Pass %d: %d attempted, %d processed, %d failed\n",
		res.Pass, res.Attempted, res.Processed, res.Failed)
	if res.Exhausted+res.Removed+res.AuthHeld > 0 {
		fmt.Fprintf(w, "  exhausted %d, removed %d, held for auth %d\n",
			res.Exhausted, res.Removed, res.AuthHeld)
	}
	if res.Stopped {
		fmt.Fprintln(w, "  stopped early")
	}
	for _, ie := range res.Errors {
		fmt.Fprintf(w, "  ✗ #%d %s %s: %s (%s)\n", ie.ItemID, ie.Method, ie.TargetURL, ie.Reason, ie.Code)
	}
}
