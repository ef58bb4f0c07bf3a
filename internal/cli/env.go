package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/config"
	"github.com/roach88/offsync/internal/offline"
	"github.com/roach88/offsync/internal/store"
)

// env is what a command needs to act on the local store.
type env struct {
	cfg     config.Config
	store   *store.Store
	manager *offline.Manager
	logger  *slog.Logger
	out     *OutputFormatter
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("error closing database", "error", err)
	}
}

func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// newLogger writes text logs to w at Debug when verbose, Info otherwise.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads --config when given, else starts from defaults, then
// applies --db.
func loadConfig(opts *RootOptions) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if opts.Config != "" {
		cfg, err = config.Load(opts.Config)
		if err != nil {
			return config.Config{}, err
		}
	} else {
		cfg = config.Default()
	}
	if opts.Database != "" {
		cfg.StorePath = opts.Database
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openEnv loads config, opens the store and builds a Manager over it.
// Errors are already written to the formatter.
func openEnv(opts *RootOptions, cmd *cobra.Command) (*env, error) {
	out := formatter(opts, cmd)
	logger := newLogger(opts, cmd.ErrOrStderr())

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	logger.Debug("opening database", "path", cfg.StorePath)
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}

	m, err := offline.New(st, cfg, offline.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "failed to build offline manager", err)
	}
	return &env{cfg: cfg, store: st, manager: m, logger: logger, out: out}, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM or when the
// command's own context ends.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
