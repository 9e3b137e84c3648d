// Package rtc manages the per-peer media links. Each remote member gets one
// PeerConnection; negotiation rides over the signaling socket via Signaler.
package rtc

import (
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/domain"
)

// Signaler delivers addressed negotiation envelopes to one peer.
type Signaler interface {
	SendOffer(to domain.Identity, sdp string) error
	SendAnswer(to domain.Identity, sdp string) error
	SendCandidate(to domain.Identity, candidate string) error
}

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m)), nil
}

// RemoteTrack is a media source owned by another member. The stream id
// carries the publication kind and owner ("mic-<identity>" or
// "screen-<identity>").
type RemoteTrack struct {
	track *webrtc.TrackRemote
	owner domain.Identity
	kind  domain.TrackKind
}

func (t RemoteTrack) Handle() domain.TrackHandle {
	return domain.TrackHandle{Participant: t.owner, PublicationID: t.track.ID()}
}

func (t RemoteTrack) Kind() domain.TrackKind { return t.kind }

// Track exposes the underlying source for rendering.
func (t RemoteTrack) Track() *webrtc.TrackRemote { return t.track }

func classifyStream(streamID string, fallback domain.Identity) (domain.TrackKind, domain.Identity, bool) {
	if rest, ok := strings.CutPrefix(streamID, "mic-"); ok {
		return domain.TrackAudio, domain.Identity(rest), true
	}
	if rest, ok := strings.CutPrefix(streamID, "screen-"); ok {
		return domain.TrackScreen, domain.Identity(rest), true
	}
	return "", fallback, false
}

// PeerLink is one PeerConnection to one remote member. Candidates arriving
// before the remote description are buffered.
type PeerLink struct {
	pc     *webrtc.PeerConnection
	local  domain.Identity
	remote domain.Identity
	sig    Signaler

	onTrack  func(RemoteTrack)
	onClosed func()

	mu         sync.Mutex
	senders    map[string]*webrtc.RTPSender
	pending    []webrtc.ICECandidateInit
	haveRemote bool
}

func NewPeerLink(cfg webrtc.Configuration, local, remote domain.Identity, sig Signaler, onTrack func(RemoteTrack), onClosed func()) (*PeerLink, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	l := &PeerLink{
		pc:       pc,
		local:    local,
		remote:   remote,
		sig:      sig,
		onTrack:  onTrack,
		onClosed: onClosed,
		senders:  make(map[string]*webrtc.RTPSender),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if err := sig.SendCandidate(remote, cand.ToJSON().Candidate); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("peer", string(remote)).Msg("send candidate")
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind, owner, ok := classifyStream(track.StreamID(), remote)
		if !ok {
			log.Warn().Str("module", "rtc").Str("stream", track.StreamID()).Msg("unclassifiable stream")
			return
		}
		log.Info().Str("module", "rtc").Str("peer", string(remote)).Str("kind", string(kind)).Str("track_id", track.ID()).Msg("remote track")
		if l.onTrack != nil {
			l.onTrack(RemoteTrack{track: track, owner: owner, kind: kind})
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "rtc").Str("peer", string(remote)).Str("state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			if l.onClosed != nil {
				l.onClosed()
			}
		}
	})

	return l, nil
}

// Offer starts (or restarts) negotiation toward the remote peer. The
// publisher side always initiates.
func (l *PeerLink) Offer() error {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return l.sig.SendOffer(l.remote, offer.SDP)
}

func (l *PeerLink) HandleOffer(sdp string) error {
	if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return err
	}
	l.flushCandidates()
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	return l.sig.SendAnswer(l.remote, answer.SDP)
}

func (l *PeerLink) HandleAnswer(sdp string) error {
	if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return err
	}
	l.flushCandidates()
	return nil
}

func (l *PeerLink) AddCandidate(candidate string) error {
	ci := webrtc.ICECandidateInit{Candidate: candidate}
	l.mu.Lock()
	if !l.haveRemote {
		l.pending = append(l.pending, ci)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.pc.AddICECandidate(ci)
}

func (l *PeerLink) flushCandidates() {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.haveRemote = true
	l.mu.Unlock()
	for _, ci := range pending {
		if err := l.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("peer", string(l.remote)).Msg("buffered candidate")
		}
	}
}

// AddLocalTrack attaches a local publication; drains RTCP so the sender
// does not stall.
func (l *PeerLink) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) error {
	sender, err := l.pc.AddTrack(track)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.senders[track.ID()] = sender
	l.mu.Unlock()

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (l *PeerLink) RemoveLocalTrack(trackID string) error {
	l.mu.Lock()
	sender, ok := l.senders[trackID]
	delete(l.senders, trackID)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return l.pc.RemoveTrack(sender)
}

func (l *PeerLink) Close() {
	if err := l.pc.Close(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("peer", string(l.remote)).Msg("close")
	}
}
