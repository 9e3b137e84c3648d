package rtc

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Stage/internal/domain"
)

// LocalPublisher owns the local outgoing tracks. Track ids are fresh per
// enable so a re-publish after reconnect never collides with a stale one.
type LocalPublisher struct {
	identity domain.Identity

	mu     sync.Mutex
	mic    *webrtc.TrackLocalStaticRTP
	screen *webrtc.TrackLocalStaticRTP
}

func NewLocalPublisher(identity domain.Identity) *LocalPublisher {
	return &LocalPublisher{identity: identity}
}

// SetIdentity rebinds the publisher after a connect assigns the identity.
func (p *LocalPublisher) SetIdentity(identity domain.Identity) {
	p.mu.Lock()
	p.identity = identity
	p.mu.Unlock()
}

func (p *LocalPublisher) EnableMic() (*webrtc.TrackLocalStaticRTP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mic != nil {
		return p.mic, nil
	}
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		"mic-"+uuid.NewString()[:8],
		"mic-"+string(p.identity),
	)
	if err != nil {
		return nil, err
	}
	p.mic = track
	return track, nil
}

func (p *LocalPublisher) DisableMic() *webrtc.TrackLocalStaticRTP {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.mic
	p.mic = nil
	return t
}

func (p *LocalPublisher) EnableScreen() (*webrtc.TrackLocalStaticRTP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.screen != nil {
		return p.screen, nil
	}
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		"screen-"+uuid.NewString()[:8],
		"screen-"+string(p.identity),
	)
	if err != nil {
		return nil, err
	}
	p.screen = track
	return track, nil
}

func (p *LocalPublisher) DisableScreen() *webrtc.TrackLocalStaticRTP {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.screen
	p.screen = nil
	return t
}

// Tracks returns the currently enabled local tracks.
func (p *LocalPublisher) Tracks() []*webrtc.TrackLocalStaticRTP {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*webrtc.TrackLocalStaticRTP
	if p.mic != nil {
		out = append(out, p.mic)
	}
	if p.screen != nil {
		out = append(out, p.screen)
	}
	return out
}

// Reset drops all local tracks. Used across reconnects where the transport
// forgets publication state.
func (p *LocalPublisher) Reset() {
	p.mu.Lock()
	p.mic = nil
	p.screen = nil
	p.mu.Unlock()
}

// MicTrack returns the live mic track, if enabled.
func (p *LocalPublisher) MicTrack() *webrtc.TrackLocalStaticRTP {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mic
}

// ScreenTrack returns the live screen track, if enabled.
func (p *LocalPublisher) ScreenTrack() *webrtc.TrackLocalStaticRTP {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screen
}
