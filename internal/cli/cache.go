package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/store"
)

// CacheEntryView is the cache get output.
type CacheEntryView struct {
	Key       string    `json:"key"`
	Fresh     bool      `json:"fresh"`
	WrittenAt time.Time `json:"writtenAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Payload   string    `json:"payload"`
}

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the response cache",
	}
	cmd.AddCommand(newCacheGetCommand(rootOpts))
	cmd.AddCommand(newCacheClearCommand(rootOpts))
	cmd.AddCommand(newCacheSweepCommand(rootOpts))
	return cmd
}

func newCacheGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Show a cache entry, fresh or not",
		Long: `Show a cache entry without expiring it.

Routed responses are stored under "req:" followed by the normalized
request key.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			entry, err := e.manager.Cache().Entry(commandContext(cmd), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return e.out.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("no cache entry %q", args[0]), nil)
			}
			if err != nil {
				return e.out.Fail(ExitCommandError, ErrCodeStore, "failed to read cache", err)
			}

			view := CacheEntryView{
				Key:       entry.Key,
				Fresh:     entry.Fresh(time.Now()),
				WrittenAt: entry.WrittenAt,
				ExpiresAt: entry.ExpiresAt(),
				Payload:   string(entry.Payload),
			}
			return e.out.Success(view, func(w io.Writer) {
				state := "expired"
				if view.Fresh {
					state = "fresh"
				}
				fmt.Fprintf(w, "%s (%s, expires %s)\n", view.Key, state, view.ExpiresAt.Local().Format(time.RFC3339))
				fmt.Fprintln(w, view.Payload)
			})
		},
	}
}

func newCacheClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "clear",
		Short:         "Delete every cache entry",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.manager.Cache().Clear(commandContext(cmd))
			if err != nil {
				return e.out.Fail(ExitCommandError, ErrCodeStore, "failed to clear cache", err)
			}
			return e.out.Success(map[string]int{"removed": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %s.\n", plural(n, "entry", "entries"))
			})
		},
	}
}

func newCacheSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "sweep",
		Short:         "Delete expired cache entries",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.manager.Cache().Sweep(commandContext(cmd))
			if err != nil {
				return e.out.Fail(ExitCommandError, ErrCodeStore, "failed to sweep cache", err)
			}
			return e.out.Success(map[string]int{"removed": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %s.\n", plural(n, "expired entry", "expired entries"))
			})
		},
	}
}
