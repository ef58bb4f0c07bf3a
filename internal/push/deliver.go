package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Notifier displays a notification.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// Instance is a running application window or tab.
type Instance struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Launcher focuses or opens application instances.
type Launcher interface {
	Instances(ctx context.Context) ([]Instance, error)
	Focus(ctx context.Context, id string) error
	Open(ctx context.Context, target string) error
}

// Interaction is a user response to a shown notification.
type Interaction struct {
	// Action is the button pressed. Empty means the body was clicked.
	Action       string       `json:"action"`
	Dismissed    bool         `json:"dismissed"`
	Notification Notification `json:"notification"`
}

// Outcome reports what HandleInteraction did.
type Outcome string

const (
	OutcomeIgnored Outcome = "ignored"
	OutcomeFocused Outcome = "focused"
	OutcomeOpened  Outcome = "opened"
)

// Deliverer shows incoming messages and routes interactions.
type Deliverer struct {
	notifier Notifier
	launcher Launcher
	logger   *slog.Logger
}

// NewDeliverer creates a Deliverer.
func NewDeliverer(n Notifier, l Launcher, logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{notifier: n, launcher: l, logger: logger}
}

// Deliver parses raw and shows it. Malformed input still produces a
// notification; only a Notifier failure is returned.
func (d *Deliverer) Deliver(ctx context.Context, raw []byte) (Notification, error) {
	n := Parse(raw)
	if len(raw) > 0 && !json.Valid(raw) {
		d.logger.Warn("malformed push payload, showing generic notification", "bytes", len(raw))
	}
	if err := d.notifier.Show(ctx, n); err != nil {
		return n, fmt.Errorf("show notification %s: %w", n.ID, err)
	}
	d.logger.Info("notification shown", "id", n.ID, "url", n.URL)
	return n, nil
}

// HandleInteraction routes a click. Dismissals and the close and dismiss
// actions do nothing. Otherwise an instance already showing the target
// location is focused, or a new one is opened.
func (d *Deliverer) HandleInteraction(ctx context.Context, in Interaction) (Outcome, error) {
	if in.Dismissed || in.Action == "dismiss" || in.Action == "close" {
		return OutcomeIgnored, nil
	}

	target := in.Notification.URL
	if target == "" {
		target = DefaultURL
	}

	instances, err := d.launcher.Instances(ctx)
	if err != nil {
		return "", fmt.Errorf("list instances: %w", err)
	}
	for _, inst := range instances {
		if sameLocation(inst.URL, target) {
			if err := d.launcher.Focus(ctx, inst.ID); err != nil {
				return "", fmt.Errorf("focus %s: %w", inst.ID, err)
			}
			return OutcomeFocused, nil
		}
	}

	if err := d.launcher.Open(ctx, target); err != nil {
		return "", fmt.Errorf("open %s: %w", target, err)
	}
	return OutcomeOpened, nil
}

// sameLocation reports whether two URLs address the same location. The
// path, query and fragment must all match, so an instance showing
// /items?id=3 is not reused for /items?id=5. Hosts are compared only
// when both URLs carry one, so an absolute instance URL matches a
// relative notification target. A trailing slash on the path is ignored.
func sameLocation(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}
	if ua.Host != "" && ub.Host != "" && !strings.EqualFold(ua.Host, ub.Host) {
		return false
	}
	return pathOf(ua) == pathOf(ub) &&
		ua.RawQuery == ub.RawQuery &&
		ua.Fragment == ub.Fragment
}

func pathOf(u *url.URL) string {
	p := u.Path
	if p == "" {
		p = "/"
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}
