// Package notify turns poll transitions into desktop notifications.
package notify

import (
	"context"
	"log/slog"

	"github.com/fldc/twitch-indicator/internal/domain"
	"github.com/fldc/twitch-indicator/internal/metrics"
)

type Options struct {
	Enabled         bool
	ShowGame        bool
	ShowViewerCount bool
}

// Summary counts what one Dispatch did.
type Summary struct {
	Notified   int
	Suppressed int
	Offline    int
	Failed     int
}

type Dispatcher struct {
	notifier domain.Notifier
	opts     Options
}

func NewDispatcher(notifier domain.Notifier, opts Options) *Dispatcher {
	return &Dispatcher{notifier: notifier, opts: opts}
}

// Dispatch sends one notification per went_live event. went_offline events
// are only counted. A failing notifier is logged and the batch continues.
func (d *Dispatcher) Dispatch(ctx context.Context, events []domain.NotificationEvent) Summary {
	var s Summary
	for _, e := range events {
		switch e.Transition {
		case domain.WentOffline:
			s.Offline++
			slog.DebugContext(ctx, "Notify: channel went offline", "channel", e.Channel.Login)
			continue
		case domain.WentLive:
		default:
			continue
		}

		if !d.opts.Enabled || d.notifier == nil {
			s.Suppressed++
			metrics.NotificationsTotal.WithLabelValues("suppressed").Inc()
			continue
		}

		if err := d.notifier.Notify(ctx, Title(e.Channel), Body(e.Channel, d.opts)); err != nil {
			s.Failed++
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			slog.WarnContext(ctx, "Notify: notification failed", "channel", e.Channel.Login, "error", err)
			continue
		}

		s.Notified++
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
		slog.InfoContext(ctx, "Notify: channel went live", "channel", e.Channel.Login, "game", e.Channel.Game, "viewers", e.Channel.ViewerCount)
	}
	return s
}
