package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"strconv"
	"sync"
)

// LogNotifier "shows" notifications by logging them. Used by the
// headless daemon.
type LogNotifier struct {
	Logger *slog.Logger
}

// Show implements Notifier.
func (n LogNotifier) Show(_ context.Context, note Notification) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		"id", note.ID,
		"title", note.Title,
		"body", note.Body,
		"url", note.URL,
		"tag", note.Tag,
	)
	return nil
}

// ErrFocusUnsupported is returned by launchers that cannot see running
// instances.
var ErrFocusUnsupported = errors.New("launcher cannot focus instances")

// CommandLauncher opens targets with an external command such as
// xdg-open. It cannot see running instances, so every interaction opens.
type CommandLauncher struct {
	// Command is the program and leading arguments. The target URL is
	// appended.
	Command []string

	// BaseURL resolves relative targets.
	BaseURL *url.URL
}

// Instances implements Launcher. Always empty.
func (CommandLauncher) Instances(context.Context) ([]Instance, error) {
	return nil, nil
}

// Focus implements Launcher.
func (CommandLauncher) Focus(context.Context, string) error {
	return ErrFocusUnsupported
}

// Open implements Launcher.
func (l CommandLauncher) Open(ctx context.Context, target string) error {
	if len(l.Command) == 0 {
		return errors.New("no opener command configured")
	}
	if l.BaseURL != nil {
		u, err := url.Parse(target)
		if err != nil {
			return fmt.Errorf("parse target: %w", err)
		}
		target = l.BaseURL.ResolveReference(u).String()
	}
	args := append(append([]string(nil), l.Command[1:]...), target)
	out, err := exec.CommandContext(ctx, l.Command[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", l.Command[0], err, out)
	}
	return nil
}

// MemoryLauncher tracks instances in memory.
//
// Thread-safety: safe for concurrent use.
type MemoryLauncher struct {
	mu        sync.Mutex
	instances []Instance
	focused   []string
	opened    []string
	nextID    int
}

// NewMemoryLauncher creates a launcher with the given running instances.
func NewMemoryLauncher(instances ...Instance) *MemoryLauncher {
	return &MemoryLauncher{instances: instances}
}

// Instances implements Launcher.
func (l *MemoryLauncher) Instances(context.Context) ([]Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Instance(nil), l.instances...), nil
}

// Focus implements Launcher.
func (l *MemoryLauncher) Focus(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, inst := range l.instances {
		if inst.ID == id {
			l.focused = append(l.focused, id)
			return nil
		}
	}
	return fmt.Errorf("no instance %q", id)
}

// Open implements Launcher. The opened target becomes a new instance.
func (l *MemoryLauncher) Open(_ context.Context, target string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.instances = append(l.instances, Instance{ID: "opened-" + strconv.Itoa(l.nextID), URL: target})
	l.opened = append(l.opened, target)
	return nil
}

// Focused returns the focused instance ids in order.
func (l *MemoryLauncher) Focused() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.focused...)
}

// Opened returns the opened targets in order.
func (l *MemoryLauncher) Opened() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.opened...)
}

// RecordingNotifier records every notification shown.
//
// Thread-safety: safe for concurrent use.
type RecordingNotifier struct {
	mu    sync.Mutex
	shown []Notification
	err   error
}

// Show implements Notifier.
func (n *RecordingNotifier) Show(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.shown = append(n.shown, note)
	return nil
}

// FailWith makes every later Show return err.
func (n *RecordingNotifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Shown returns every notification shown, in order.
func (n *RecordingNotifier) Shown() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.shown...)
}
