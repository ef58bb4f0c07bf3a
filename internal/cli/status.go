package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/status"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Local bool // read the store directly, never ask the daemon
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, pending count and last sync time",
		Long: `Show the sync status.

Asks the running daemon over the control API first. When no daemon
answers, or with --local, the status is read from the store and
connectivity is determined by a single probe.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Local, "local", false, "read the local store instead of asking the daemon")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	e, err := openEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := commandContext(cmd)

	var snap status.Snapshot
	remote := false
	if !opts.Local && e.cfg.Control.Addr != "" {
		snap, err = fetchStatus(ctx, e.cfg.Control.Addr)
		if err == nil {
			remote = true
		} else {
			e.logger.Debug("daemon not reachable, reading store", "error", err)
		}
	}
	if !remote {
		if p := e.manager.Prober(); p != nil {
			p.Probe(ctx)
		}
		snap, err = e.manager.Status(ctx)
		if err != nil {
			return e.out.Fail(ExitCommandError, ErrCodeStore, "failed to read status", err)
		}
	}

	return e.out.Success(snap, func(w io.Writer) {
		state := "offline"
		if snap.IsOnline {
			state = "online"
		}
		fmt.Fprintf(w, "Connectivity: %s\n", state)
		fmt.Fprintf(w, "Pending:      %s\n", plural(snap.PendingCount, "item", "items"))
		if snap.LastSyncTime != nil {
			fmt.Fprintf(w, "Last sync:    %s\n", snap.LastSyncTime.Local().Format(time.RFC3339))
		} else {
			fmt.Fprintln(w, "Last sync:    never")
		}
	})
}

// fetchStatus reads /v1/status from a daemon listening on addr.
func fetchStatus(ctx context.Context, addr string) (status.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/v1/status", nil)
	if err != nil {
		return status.Snapshot{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return status.Snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return status.Snapshot{}, fmt.Errorf("control api: %s", resp.Status)
	}

	var snap status.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return status.Snapshot{}, fmt.Errorf("decode status: %w", err)
	}
	return snap, nil
}
