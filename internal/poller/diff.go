package poller

import (
	"slices"

	"github.com/fldc/twitch-indicator/internal/domain"
)

// Diff compares two consecutive snapshots and returns one event per channel
// whose live state changed, ordered by channel id. Channels whose status is
// unknown in curr are skipped; a channel missing from either side counts as
// offline there.
func Diff(prev, curr domain.Snapshot) []domain.NotificationEvent {
	ids := prev.IDs()
	for _, id := range curr.IDs() {
		if _, ok := prev.Get(id); !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	var events []domain.NotificationEvent
	for _, id := range ids {
		now, inCurr := curr.Get(id)
		if inCurr && now.Unknown {
			continue
		}

		was, _ := prev.Get(id)
		switch {
		case !was.Live && now.Live:
			events = append(events, domain.NotificationEvent{
				ChannelID:  id,
				Transition: domain.WentLive,
				Timestamp:  curr.TakenAt,
				Channel:    now,
			})
		case was.Live && !now.Live:
			events = append(events, domain.NotificationEvent{
				ChannelID:  id,
				Transition: domain.WentOffline,
				Timestamp:  curr.TakenAt,
				Channel:    was,
			})
		}
	}
	return events
}
