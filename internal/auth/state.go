package auth

import "time"

type State int

const (
	Unauthenticated State = iota
	Authorizing
	Authenticated
	Refreshing
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authorizing:
		return "authorizing"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the manager for display purposes.
type Status struct {
	State     State
	UserID    string
	Login     string
	ExpiresAt time.Time
	// CanRefresh is false for implicit-flow tokens.
	CanRefresh bool
}
