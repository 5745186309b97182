package domain

import (
	"context"
	"time"
)

type Transition string

const (
	WentLive    Transition = "went_live"
	WentOffline Transition = "went_offline"
)

// NotificationEvent describes one observed transition of a channel between two
// consecutive snapshots.
type NotificationEvent struct {
	ChannelID  string
	Transition Transition
	Timestamp  time.Time
	Channel    ChannelStatus
}

// BrowserOpener opens the consent URL in the user's browser.
type BrowserOpener interface {
	OpenURL(url string) error
}

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// Tray reflects the current state in the system tray (or its stand-in).
type Tray interface {
	SetLive(ctx context.Context, live []ChannelStatus)
	SetStatus(ctx context.Context, tooltip string)
}
