package domain

// TrackKind distinguishes the two producer sorts a session cares about.
type TrackKind string

const (
	TrackAudio  TrackKind = "audio"
	TrackScreen TrackKind = "screen"
)

// TrackHandle identifies a remote producer. At most one locally rendered
// output may exist per handle at any time.
type TrackHandle struct {
	Participant   Identity
	PublicationID string
}
