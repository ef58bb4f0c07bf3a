package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/queue"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the mutation queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueClearCommand(rootOpts))
	cmd.AddCommand(newQueuePurgeCommand(rootOpts))
	cmd.AddCommand(newQueueRemoveCommand(rootOpts))
	return cmd
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	var held bool
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List every stored item in replay order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := commandContext(cmd)
			if held {
				items, err := e.manager.Queue().ListHeld(ctx)
				if err != nil {
					return e.out.Fail(ExitCommandError, ErrCodeStore, "failed to read queue", err)
				}
				snap := queue.Snapshot{QueueLength: len(items), Items: items}
				return e.out.Success(snap, func(w io.Writer) {
					fmt.Fprintf(w, "Held for re-authentication: %s\n", plural(len(items), "item", "items"))
					printItems(w, items)
				})
			}

			snap, err := e.manager.QueueStatus(ctx)
			if err != nil {
				return e.out.Fail(ExitCommandError, ErrCodeStore, "failed to read queue", err)
			}
			return e.out.Success(snap, func(w io.Writer) { printQueue(w, snap) })
		},
	}
	cmd.Flags().BoolVar(&held, "held", false, "list only items waiting for re-authentication")
	return cmd
}

func printQueue(w io.Writer, snap queue.Snapshot) {
	fmt.Fprintf(w, "Queue: %s pending\n", plural(snap.QueueLength, "item", "items"))
	printItems(w, snap.Items)
}

func printItems(w io.Writer, items []queue.Item) {
	if len(items) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tMETHOD\tURL\tRETRIES\tCREATED\tNOTE")
	for _, it := range items {
		note := it.Description
		if it.AuthHold {
			note = "held: " + it.LastError
		} else if it.LastError != "" {
			note = it.LastError
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			it.ID, it.Status, it.Priority, it.Method, it.TargetURL, it.RetryCount,
			it.CreatedAt.Local().Format(time.DateTime), note)
	}
	tw.Flush()
}

func newQueueClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear",
		Short:         "Delete every stored item",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.manager.Queue().Clear(commandContext(cmd))
			if err != nil {
				return e.out.Fail(ExitCommandError, ErrCodeStore, "failed to clear queue", err)
			}
			return e.out.Success(map[string]int{"removed": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %s.\n", plural(n, "item", "items"))
			})
		},
	}
}

func newQueuePurgeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "purge",
		Short:         "Delete items that failed permanently",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.manager.Queue().RemoveFailed(commandContext(cmd))
			if err != nil {
				return e.out.Fail(ExitCommandError, ErrCodeStore, "failed to purge queue", err)
			}
			return e.out.Success(map[string]int{"purged": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Purged %s.\n", plural(n, "failed item", "failed items"))
			})
		},
	}
}

func newQueueRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <id>",
		Short:         "Delete one item",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscan(args[0], &id); err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid item id %q", args[0]), err)
			}

			e, err := openEnv(opts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ok, err := e.manager.Queue().Remove(commandContext(cmd), id)
			if err != nil {
				return e.out.Fail(ExitCommandError, ErrCodeStore, "failed to remove item", err)
			}
			if !ok {
				return e.out.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("item %d not found", id), nil)
			}
			return e.out.Success(map[string]int64{"removed": id}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed item %d.\n", id)
			})
		},
	}
}
