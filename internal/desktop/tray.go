package desktop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fldc/twitch-indicator/internal/domain"
	"github.com/fldc/twitch-indicator/internal/notify"
)

// ConsoleTray stands in for a tray icon by logging what the menu would show.
type ConsoleTray struct {
	mu      sync.Mutex
	tooltip string
	live    []domain.ChannelStatus
}

func NewConsoleTray() *ConsoleTray {
	return &ConsoleTray{tooltip: Tooltip("", 0, false)}
}

func (t *ConsoleTray) SetLive(ctx context.Context, live []domain.ChannelStatus) {
	t.mu.Lock()
	t.live = append([]domain.ChannelStatus(nil), live...)
	t.mu.Unlock()

	for _, ch := range live {
		slog.DebugContext(ctx, "Tray: live channel",
			"channel", ch.Name(),
			"game", ch.Game,
			"viewers", notify.FormatViewerCount(ch.ViewerCount),
		)
	}
}

func (t *ConsoleTray) SetStatus(ctx context.Context, tooltip string) {
	t.mu.Lock()
	changed := t.tooltip != tooltip
	t.tooltip = tooltip
	t.mu.Unlock()

	if changed {
		slog.InfoContext(ctx, "Tray: status changed", "tooltip", tooltip)
	}
}

func (t *ConsoleTray) Tooltip() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tooltip
}

func (t *ConsoleTray) Live() []domain.ChannelStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.ChannelStatus(nil), t.live...)
}

// Tooltip renders the tray tooltip for the signed-in user.
func Tooltip(login string, liveCount int, authenticated bool) string {
	if !authenticated {
		return "Twitch Indicator - Not authenticated"
	}
	return fmt.Sprintf("Twitch Indicator - %s (%d live streams)", login, liveCount)
}
