// Package domain contains entities without logic, just meta-data.
package domain

type (
	RoomID   string
	Identity string
)

// Role is what a participant is allowed to publish.
type Role string

const (
	RolePresenter Role = "presenter"
	RoleViewer    Role = "viewer"
)

func (r Role) Valid() bool {
	return r == RolePresenter || r == RoleViewer
}

// SessionState is the single source of truth for where a session is in its
// lifecycle. Every external event is mapped through one transition function;
// no state is ever inferred from independent booleans.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateConnected
	StatePublishing
	StateWaiting
	StateLive
	StateReconnecting
	StateFailed
	StateEnded
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StatePublishing:
		return "publishing"
	case StateWaiting:
		return "waiting"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session cannot leave this state without an
// explicit rejoin or a fresh connect.
func (s SessionState) Terminal() bool {
	return s == StateFailed || s == StateEnded || s == StateError
}

// Session is the one mutable record a controller owns. It is mutated only by
// the controller's transition function and destroyed on explicit leave.
type Session struct {
	State              SessionState
	Role               Role
	RoomID             RoomID
	Identity           Identity
	DesiredMic         bool
	DesiredScreenShare bool
	ReconnectAttempts  uint
}
