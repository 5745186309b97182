package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fldc/twitch-indicator/internal/domain"
)

// FormatViewerCount abbreviates large counts: 1.2M, 45K, 1.2K, 999.
func FormatViewerCount(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 10_000:
		return fmt.Sprintf("%dK", n/1_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return strconv.Itoa(n)
	}
}

// Title is the notification headline for a channel that went live.
func Title(ch domain.ChannelStatus) string {
	return fmt.Sprintf("%s is now live!", ch.Name())
}

// Body is the stream title, then the game after a blank line and the viewer
// count on a line of its own.
func Body(ch domain.ChannelStatus, opts Options) string {
	var b strings.Builder
	b.WriteString(ch.Title)
	if opts.ShowGame && ch.Game != "" {
		b.WriteString("\n\nPlaying: " + ch.Game)
	}
	if opts.ShowViewerCount {
		b.WriteString("\nViewers: " + FormatViewerCount(ch.ViewerCount))
	}
	return b.String()
}
