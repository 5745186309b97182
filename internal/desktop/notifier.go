package desktop

import (
	"context"
	"strconv"
	"time"
)

const appName = "Twitch Indicator"

// NotifySend shows notifications through the freedesktop notify-send tool.
type NotifySend struct {
	timeout time.Duration
	run     command
}

func NewNotifySend(timeout time.Duration) *NotifySend {
	return &NotifySend{timeout: timeout, run: runCommand}
}

func (n *NotifySend) Notify(ctx context.Context, title, body string) error {
	args := []string{"-a", appName}
	if n.timeout > 0 {
		args = append(args, "-t", strconv.FormatInt(n.timeout.Milliseconds(), 10))
	}
	args = append(args, title, body)
	return n.run(ctx, "notify-send", args...)
}
