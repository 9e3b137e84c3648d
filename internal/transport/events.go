package transport

import "github.com/dkeye/Stage/internal/domain"

// EventKind enumerates everything the transport can tell us.
type EventKind int

const (
	EventConnected EventKind = iota
	EventReconnecting
	EventReconnected
	EventDisconnected
	EventParticipantJoined
	EventParticipantLeft
	EventTrackSubscribed
	EventTrackUnsubscribed
	EventTrackPublished
	EventTrackUnpublished
	EventTrackMuted
	EventTrackUnmuted
	EventMediaDeviceError
	EventDataReceived
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventReconnecting:
		return "reconnecting"
	case EventReconnected:
		return "reconnected"
	case EventDisconnected:
		return "disconnected"
	case EventParticipantJoined:
		return "participant-joined"
	case EventParticipantLeft:
		return "participant-left"
	case EventTrackSubscribed:
		return "track-subscribed"
	case EventTrackUnsubscribed:
		return "track-unsubscribed"
	case EventTrackPublished:
		return "track-published"
	case EventTrackUnpublished:
		return "track-unpublished"
	case EventTrackMuted:
		return "track-muted"
	case EventTrackUnmuted:
		return "track-unmuted"
	case EventMediaDeviceError:
		return "media-device-error"
	case EventDataReceived:
		return "data-received"
	default:
		return "unknown"
	}
}

// DisconnectReason qualifies EventDisconnected.
type DisconnectReason string

const (
	// ReasonLocal: we asked for it.
	ReasonLocal DisconnectReason = "local"
	// ReasonRemote: the server ended the session.
	ReasonRemote DisconnectReason = "remote"
	// ReasonLost: connectivity dropped; a reconnect should be attempted.
	ReasonLost DisconnectReason = "connection-lost"
)

// Event is a tagged union; which fields are meaningful depends on Kind.
type Event struct {
	Kind        EventKind
	Participant Participant
	Track       domain.TrackHandle
	TrackKind   domain.TrackKind
	Producer    Producer
	Reason      DisconnectReason
	Err         error
	Data        []byte
	Sender      domain.Identity
}
