// Package transport defines the observable surface of the real-time
// transport: the commands a session controller may issue and the events it
// must react to. The wire protocol, codecs and congestion control behind this
// boundary are adapter concerns.
package transport

import (
	"context"

	"github.com/dkeye/Stage/internal/domain"
)

// Participant is the transport's view of a connected member.
type Participant struct {
	Identity    domain.Identity
	DisplayName string
	Role        domain.Role
}

// Producer is an opaque handle to a remote media source. The attachment
// manager turns one into a locally rendered sink; the controller never looks
// inside.
type Producer interface {
	Handle() domain.TrackHandle
	Kind() domain.TrackKind
}

// ScreenShareOptions mirror the command surface; adapters may ignore fields
// they cannot honor.
type ScreenShareOptions struct {
	Audio bool
}

// Transport is the command surface. Implementations must deliver events to
// subscribers registered before Connect returns; no event may be dropped
// between open and handler attachment.
//
// A transport forgets all publication and subscription state across a
// reconnect. Rehydration is the controller's job.
type Transport interface {
	// Subscribe registers fn for every subsequent event. The returned
	// cancel is idempotent and must be called on teardown; listeners are
	// never released implicitly.
	Subscribe(fn func(Event)) (cancel func())

	Connect(ctx context.Context, url, token string) error
	Disconnect() error

	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	SetScreenShareEnabled(ctx context.Context, enabled bool, opts ScreenShareOptions) error

	// PublishData sends an opaque payload to every other participant.
	PublishData(data []byte, reliable bool) error

	// LocalIdentity is valid after a successful Connect.
	LocalIdentity() domain.Identity
}
