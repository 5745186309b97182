package domain

import (
	"cmp"
	"context"
	"slices"
	"time"
)

// Channel is a followed broadcaster.
type Channel struct {
	ID          string
	Login       string
	DisplayName string
}

// Stream is a live broadcast as reported by the provider.
type Stream struct {
	ChannelID    string
	Login        string
	DisplayName  string
	Title        string
	Game         string
	ViewerCount  int
	StartedAt    time.Time
	ThumbnailURL string
}

// ChannelStatus is one entry of a snapshot. Unknown marks a channel whose live
// status could not be fetched this cycle.
type ChannelStatus struct {
	ChannelID   string
	Login       string
	DisplayName string
	Live        bool
	Title       string
	Game        string
	ViewerCount int
	StartedAt   time.Time
	Unknown     bool
}

// Name returns the display name, falling back to the login.
func (s ChannelStatus) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Login
}

// Snapshot is an immutable view of the followed channels' live status at one
// point in time. Channels absent from the snapshot are offline.
type Snapshot struct {
	TakenAt  time.Time
	channels map[string]ChannelStatus
}

// NewSnapshot copies statuses into a new snapshot keyed by channel id.
func NewSnapshot(takenAt time.Time, statuses []ChannelStatus) Snapshot {
	channels := make(map[string]ChannelStatus, len(statuses))
	for _, s := range statuses {
		channels[s.ChannelID] = s
	}
	return Snapshot{TakenAt: takenAt, channels: channels}
}

// Get returns the status of a channel.
func (s Snapshot) Get(channelID string) (ChannelStatus, bool) {
	st, ok := s.channels[channelID]
	return st, ok
}

// IsLive reports whether the channel is present and live.
func (s Snapshot) IsLive(channelID string) bool {
	return s.channels[channelID].Live
}

func (s Snapshot) Len() int { return len(s.channels) }

// IDs returns all channel ids in ascending order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Live returns the live channels, most viewers first.
func (s Snapshot) Live() []ChannelStatus {
	var live []ChannelStatus
	for _, st := range s.channels {
		if st.Live {
			live = append(live, st)
		}
	}
	slices.SortFunc(live, func(a, b ChannelStatus) int {
		if c := cmp.Compare(b.ViewerCount, a.ViewerCount); c != 0 {
			return c
		}
		return cmp.Compare(a.ChannelID, b.ChannelID)
	})
	return live
}

// LiveCount returns the number of live channels.
func (s Snapshot) LiveCount() int {
	n := 0
	for _, st := range s.channels {
		if st.Live {
			n++
		}
	}
	return n
}

// UnknownCount returns the number of channels whose status is unknown.
func (s Snapshot) UnknownCount() int {
	n := 0
	for _, st := range s.channels {
		if st.Unknown {
			n++
		}
	}
	return n
}

// CarryForward returns a new snapshot in which every unknown channel keeps the
// live state and details it had in prev. The Unknown flag is preserved so the
// channel is still skipped when diffing.
func (s Snapshot) CarryForward(prev Snapshot) Snapshot {
	channels := make(map[string]ChannelStatus, len(s.channels))
	for id, st := range s.channels {
		if st.Unknown {
			if old, ok := prev.channels[id]; ok {
				old.Unknown = true
				st = old
			}
		}
		channels[id] = st
	}
	return Snapshot{TakenAt: s.TakenAt, channels: channels}
}

// ChannelSource fetches followed channels and their live streams from the provider.
type ChannelSource interface {
	FollowedChannels(ctx context.Context, token Token) ([]Channel, error)
	LiveStreams(ctx context.Context, token Token, channelIDs []string) ([]Stream, error)
}
