package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/push"
)

// NewPushCommand creates the push command group.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Receive and display push notifications",
	}
	cmd.AddCommand(newPushListenCommand(rootOpts))
	cmd.AddCommand(newPushShowCommand(rootOpts))
	cmd.AddCommand(newPushOpenCommand(rootOpts))
	cmd.AddCommand(newPushSubscribeCommand(rootOpts))
	return cmd
}

func newPushListenCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Listen on push.stream_url and show every notification",
		Long: `Connect to push.stream_url and deliver each message as a notification.

Runs detached from the daemon and shares nothing with it but the config.
Reconnects with exponential backoff until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			l := e.manager.Listener()
			if l == nil {
				return e.out.Fail(ExitCommandError, ErrCodeConfig, "push.stream_url is not configured", nil)
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			e.logger.Info("push listener starting", "url", e.cfg.Push.StreamURL)
			if err := l.Run(ctx); err != nil && ctx.Err() == nil {
				return WrapExitError(ExitFailure, "push listener error", err)
			}
			return nil
		},
	}
}

func newPushShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [payload]",
		Short: "Show one notification from a JSON payload",
		Long: `Parse a push payload and show it as a notification.

The payload is taken from the argument, or from stdin when omitted.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			if len(args) == 1 {
				raw = []byte(args[0])
			} else {
				var err error
				raw, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read payload", err)
				}
			}

			e, err := openEnv(opts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			note, err := e.manager.Deliverer().Deliver(commandContext(cmd), raw)
			if err != nil {
				return e.out.Fail(ExitFailure, ErrCodeGeneric, "failed to show notification", err)
			}
			return e.out.Success(note, func(w io.Writer) {
				fmt.Fprintf(w, "Shown %q (%s)\n", note.Title, note.ID)
			})
		},
	}
}

func newPushOpenCommand(opts *RootOptions) *cobra.Command {
	var action string
	cmd := &cobra.Command{
		Use:           "open <payload>",
		Short:         "Act on a notification click: focus or open its URL",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			in := push.Interaction{
				Action:       action,
				Notification: push.Parse([]byte(args[0])),
			}
			outcome, err := e.manager.Deliverer().HandleInteraction(commandContext(cmd), in)
			if err != nil {
				return e.out.Fail(ExitFailure, ErrCodeGeneric, "failed to handle interaction", err)
			}
			return e.out.Success(map[string]string{"outcome": string(outcome), "url": in.Notification.URL}, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s\n", outcome, in.Notification.URL)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "action id that was clicked (empty for the body)")
	return cmd
}

func newPushSubscribeCommand(opts *RootOptions) *cobra.Command {
	var sub push.Subscription
	cmd := &cobra.Command{
		Use:           "subscribe <endpoint>",
		Short:         "Register a push endpoint with push.subscribe_url",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts, cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			r := e.manager.Registrar()
			if r == nil {
				return e.out.Fail(ExitCommandError, ErrCodeConfig, "push.subscribe_url is not configured", nil)
			}

			sub.Endpoint = args[0]
			if err := r.Subscribe(commandContext(cmd), sub); err != nil {
				return e.out.Fail(ExitFailure, ErrCodeGeneric, "subscribe failed", err)
			}
			return e.out.Success(sub, func(w io.Writer) {
				fmt.Fprintf(w, "Subscribed %s\n", sub.Endpoint)
			})
		},
	}
	cmd.Flags().StringVar(&sub.Keys.P256dh, "p256dh", "", "client public key (base64url)")
	cmd.Flags().StringVar(&sub.Keys.Auth, "auth", "", "client auth secret (base64url)")
	cmd.Flags().StringVar(&sub.DeviceInfo.UserAgent, "user-agent", "offsync", "device user agent")
	cmd.Flags().StringVar(&sub.DeviceInfo.Platform, "platform", runtime.GOOS, "device platform")
	return cmd
}
