// Package wire holds the signaling envelopes exchanged between the relay
// server and clients over the websocket. The application-level presence and
// chat protocols ride inside Data payloads and are opaque here.
package wire

const (
	TypeWelcome   = "welcome"
	TypePeerJoin  = "peer-joined"
	TypePeerLeft  = "peer-left"
	TypeData      = "data"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
	TypePublish   = "publish"
	TypeUnpublish = "unpublish"
	TypeMute      = "mute"
	TypePing      = "ping"
	TypePong      = "pong"
)

// Peer describes a room member as the relay sees it.
type Peer struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// Envelope is the single message shape on the signaling socket. Which fields
// are set depends on Type.
type Envelope struct {
	Type string `json:"type"`

	// From is stamped by the relay on forwarded messages; clients never
	// set it themselves.
	From string `json:"from,omitempty"`
	// To addresses offer/answer/candidate at one peer.
	To string `json:"to,omitempty"`

	Peer  *Peer  `json:"peer,omitempty"`
	Peers []Peer `json:"peers,omitempty"`

	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`

	// Kind and Track describe a publication ("audio"/"screen").
	Kind  string `json:"kind,omitempty"`
	Track string `json:"track,omitempty"`
	Muted bool   `json:"muted,omitempty"`

	// Payload is opaque application data; base64 on the wire so arbitrary
	// bytes survive, not only JSON.
	Payload  []byte `json:"payload,omitempty"`
	Reliable bool   `json:"reliable,omitempty"`
}
