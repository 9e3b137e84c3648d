// Package ws implements the real-time transport over the relay's websocket
// signaling protocol, with per-peer media links negotiated through it.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/adapters/rtc"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/transport"
	"github.com/dkeye/Stage/internal/wire"
)

const (
	dialTimeout    = 10 * time.Second
	welcomeTimeout = 10 * time.Second
	maxRedials     = 3
	redialDelay    = time.Second
)

// Client is the production transport. One websocket to the relay carries
// signaling and data; media flows over a mesh of peer links.
//
// All publication and subscription state is dropped across a reconnect; the
// session controller republishes and reattaches.
type Client struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	identity domain.Identity
	url      string
	token    string
	closing  bool
	gen      int

	writeMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]func(transport.Event)
	nextSub int

	peerMu sync.Mutex
	peers  map[domain.Identity]wire.Peer

	linkMu sync.Mutex
	links  map[domain.Identity]*rtc.PeerLink

	pub    *rtc.LocalPublisher
	rtcCfg func() webrtc.Configuration
}

func NewClient() *Client {
	return &Client{
		subs:   make(map[int]func(transport.Event)),
		peers:  make(map[domain.Identity]wire.Peer),
		links:  make(map[domain.Identity]*rtc.PeerLink),
		pub:    rtc.NewLocalPublisher(""),
		rtcCfg: rtc.DefaultConfig,
	}
}

func (c *Client) Subscribe(fn func(transport.Event)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Client) emit(ev transport.Event) {
	c.subMu.Lock()
	fns := make([]func(transport.Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) Connect(ctx context.Context, base, token string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.url = base
	c.token = token
	c.closing = false
	c.mu.Unlock()

	conn, peers, identity, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.identity = identity
	c.gen++
	gen := c.gen
	c.mu.Unlock()
	c.pub.SetIdentity(identity)

	c.emit(transport.Event{Kind: transport.EventConnected})
	c.setPeers(peers)
	go c.readLoop(conn, gen)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, []wire.Peer, domain.Identity, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, nil, "", fmt.Errorf("transport url: %w", err)
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, nil, "", fmt.Errorf("websocket dial: %w", err)
	}

	// The relay opens with a welcome carrying our identity and the current
	// peer list.
	_ = conn.SetReadDeadline(time.Now().Add(welcomeTimeout))
	var env wire.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return nil, nil, "", fmt.Errorf("welcome: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if env.Type != wire.TypeWelcome || env.Peer == nil {
		conn.Close()
		return nil, nil, "", fmt.Errorf("welcome: unexpected %q", env.Type)
	}
	return conn, env.Peers, domain.Identity(env.Peer.Identity), nil
}

// setPeers reconciles the known peer set against a fresh welcome list and
// emits joins and leaves for the difference.
func (c *Client) setPeers(peers []wire.Peer) {
	fresh := make(map[domain.Identity]wire.Peer, len(peers))
	for _, p := range peers {
		fresh[domain.Identity(p.Identity)] = p
	}

	c.peerMu.Lock()
	old := c.peers
	c.peers = fresh
	c.peerMu.Unlock()

	for id, p := range fresh {
		if _, ok := old[id]; !ok {
			c.emit(transport.Event{Kind: transport.EventParticipantJoined, Participant: asParticipant(p)})
		}
	}
	for id, p := range old {
		if _, ok := fresh[id]; !ok {
			c.emit(transport.Event{Kind: transport.EventParticipantLeft, Participant: asParticipant(p)})
		}
	}
}

func asParticipant(p wire.Peer) transport.Participant {
	return transport.Participant{
		Identity:    domain.Identity(p.Identity),
		DisplayName: p.Name,
		Role:        domain.Role(p.Role),
	}
}

func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onReadError(conn, gen, err)
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "adapters.ws").Msg("bad envelope")
			continue
		}
		c.handle(env)
	}
}

func (c *Client) onReadError(conn *websocket.Conn, gen int, err error) {
	c.mu.Lock()
	stale := c.gen != gen || c.closing
	c.mu.Unlock()
	if stale {
		return
	}
	conn.Close()
	c.dropMedia()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.clearConn()
		c.emit(transport.Event{Kind: transport.EventDisconnected, Reason: transport.ReasonRemote})
		return
	}

	log.Warn().Err(err).Str("module", "adapters.ws").Msg("connection lost, redialing")
	c.emit(transport.Event{Kind: transport.EventReconnecting, Err: err})

	for i := 0; i < maxRedials; i++ {
		time.Sleep(redialDelay)
		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		fresh, peers, identity, derr := c.dial(ctx)
		cancel()
		if derr != nil {
			log.Debug().Err(derr).Str("module", "adapters.ws").Int("attempt", i+1).Msg("redial failed")
			continue
		}

		c.mu.Lock()
		c.conn = fresh
		c.identity = identity
		c.gen++
		newGen := c.gen
		c.mu.Unlock()
		c.pub.SetIdentity(identity)

		c.emit(transport.Event{Kind: transport.EventReconnected})
		c.setPeers(peers)
		go c.readLoop(fresh, newGen)
		return
	}

	c.clearConn()
	c.emit(transport.Event{Kind: transport.EventDisconnected, Reason: transport.ReasonLost, Err: err})
}

func (c *Client) handle(env wire.Envelope) {
	from := domain.Identity(env.From)

	switch env.Type {
	case wire.TypePeerJoin:
		if env.Peer == nil {
			return
		}
		p := *env.Peer
		c.peerMu.Lock()
		c.peers[domain.Identity(p.Identity)] = p
		c.peerMu.Unlock()
		c.emit(transport.Event{Kind: transport.EventParticipantJoined, Participant: asParticipant(p)})
		// Existing publications must reach the newcomer.
		c.offerTo(domain.Identity(p.Identity))

	case wire.TypePeerLeft:
		if env.Peer == nil {
			return
		}
		id := domain.Identity(env.Peer.Identity)
		c.peerMu.Lock()
		delete(c.peers, id)
		c.peerMu.Unlock()
		c.dropLink(id)
		c.emit(transport.Event{Kind: transport.EventParticipantLeft, Participant: asParticipant(*env.Peer)})

	case wire.TypeData:
		c.emit(transport.Event{Kind: transport.EventDataReceived, Data: env.Payload, Sender: from})

	case wire.TypePublish:
		c.emit(transport.Event{
			Kind:        transport.EventTrackPublished,
			Participant: c.participant(from),
			Track:       domain.TrackHandle{Participant: from, PublicationID: env.Track},
			TrackKind:   domain.TrackKind(env.Kind),
		})

	case wire.TypeUnpublish:
		handle := domain.TrackHandle{Participant: from, PublicationID: env.Track}
		kind := domain.TrackKind(env.Kind)
		c.emit(transport.Event{Kind: transport.EventTrackUnsubscribed, Participant: c.participant(from), Track: handle, TrackKind: kind})
		c.emit(transport.Event{Kind: transport.EventTrackUnpublished, Participant: c.participant(from), Track: handle, TrackKind: kind})

	case wire.TypeMute:
		kind := transport.EventTrackUnmuted
		if env.Muted {
			kind = transport.EventTrackMuted
		}
		c.emit(transport.Event{
			Kind:        kind,
			Participant: c.participant(from),
			Track:       domain.TrackHandle{Participant: from, PublicationID: env.Track},
			TrackKind:   domain.TrackKind(env.Kind),
		})

	case wire.TypeOffer:
		link, err := c.ensureLink(from)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.ws").Str("from", env.From).Msg("peer link")
			return
		}
		if err := link.HandleOffer(env.SDP); err != nil {
			log.Warn().Err(err).Str("module", "adapters.ws").Str("from", env.From).Msg("offer")
		}

	case wire.TypeAnswer:
		if link := c.link(from); link != nil {
			if err := link.HandleAnswer(env.SDP); err != nil {
				log.Warn().Err(err).Str("module", "adapters.ws").Str("from", env.From).Msg("answer")
			}
		}

	case wire.TypeCandidate:
		if link := c.link(from); link != nil {
			if err := link.AddCandidate(env.Candidate); err != nil {
				log.Warn().Err(err).Str("module", "adapters.ws").Str("from", env.From).Msg("candidate")
			}
		}

	case wire.TypePong:
		// keepalive answer, nothing to do

	default:
		log.Debug().Str("module", "adapters.ws").Str("type", env.Type).Msg("unhandled envelope")
	}
}

func (c *Client) participant(id domain.Identity) transport.Participant {
	c.peerMu.Lock()
	defer c.peerMu.Unlock()
	if p, ok := c.peers[id]; ok {
		return asParticipant(p)
	}
	return transport.Participant{Identity: id}
}

func (c *Client) link(id domain.Identity) *rtc.PeerLink {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	return c.links[id]
}

func (c *Client) ensureLink(id domain.Identity) (*rtc.PeerLink, error) {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	if l, ok := c.links[id]; ok {
		return l, nil
	}
	l, err := rtc.NewPeerLink(c.rtcCfg(), c.LocalIdentity(), id, c,
		func(rt rtc.RemoteTrack) {
			c.emit(transport.Event{
				Kind:        transport.EventTrackSubscribed,
				Participant: c.participant(rt.Handle().Participant),
				Track:       rt.Handle(),
				TrackKind:   rt.Kind(),
				Producer:    rt,
			})
		},
		func() { c.dropLink(id) },
	)
	if err != nil {
		return nil, err
	}
	for _, t := range c.pub.Tracks() {
		if err := l.AddLocalTrack(t); err != nil {
			log.Warn().Err(err).Str("module", "adapters.ws").Str("peer", string(id)).Msg("add local track")
		}
	}
	c.links[id] = l
	return l, nil
}

// offerTo negotiates toward one peer if we have anything to send.
func (c *Client) offerTo(id domain.Identity) {
	if len(c.pub.Tracks()) == 0 {
		return
	}
	link, err := c.ensureLink(id)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Str("peer", string(id)).Msg("peer link")
		return
	}
	if err := link.Offer(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.ws").Str("peer", string(id)).Msg("offer")
	}
}

func (c *Client) dropLink(id domain.Identity) {
	c.linkMu.Lock()
	l, ok := c.links[id]
	delete(c.links, id)
	c.linkMu.Unlock()
	if ok {
		l.Close()
	}
}

func (c *Client) dropMedia() {
	c.linkMu.Lock()
	links := c.links
	c.links = make(map[domain.Identity]*rtc.PeerLink)
	c.linkMu.Unlock()
	for _, l := range links {
		l.Close()
	}
	c.pub.Reset()
}

func (c *Client) clearConn() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.closing = true
	c.mu.Unlock()

	c.dropMedia()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
		c.emit(transport.Event{Kind: transport.EventDisconnected, Reason: transport.ReasonLocal})
	}
	return nil
}

func (c *Client) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	if enabled {
		track, err := c.pub.EnableMic()
		if err != nil {
			return fmt.Errorf("microphone: %w", err)
		}
		c.renegotiate(track, true)
		return c.writeEnvelope(wire.Envelope{Type: wire.TypePublish, Kind: string(domain.TrackAudio), Track: track.ID()})
	}
	track := c.pub.DisableMic()
	if track == nil {
		return nil
	}
	c.renegotiate(track, false)
	return c.writeEnvelope(wire.Envelope{Type: wire.TypeUnpublish, Kind: string(domain.TrackAudio), Track: track.ID()})
}

func (c *Client) SetScreenShareEnabled(ctx context.Context, enabled bool, _ transport.ScreenShareOptions) error {
	if enabled {
		track, err := c.pub.EnableScreen()
		if err != nil {
			return fmt.Errorf("screen capture: %w", err)
		}
		c.renegotiate(track, true)
		return c.writeEnvelope(wire.Envelope{Type: wire.TypePublish, Kind: string(domain.TrackScreen), Track: track.ID()})
	}
	track := c.pub.DisableScreen()
	if track == nil {
		return nil
	}
	c.renegotiate(track, false)
	return c.writeEnvelope(wire.Envelope{Type: wire.TypeUnpublish, Kind: string(domain.TrackScreen), Track: track.ID()})
}

// renegotiate pushes a track change to every known peer.
func (c *Client) renegotiate(track *webrtc.TrackLocalStaticRTP, add bool) {
	c.peerMu.Lock()
	ids := make([]domain.Identity, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	c.peerMu.Unlock()

	for _, id := range ids {
		link, err := c.ensureLink(id)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.ws").Str("peer", string(id)).Msg("peer link")
			continue
		}
		var lerr error
		if add {
			// ensureLink may already have added the fresh track set.
			lerr = link.AddLocalTrack(track)
		} else {
			lerr = link.RemoveLocalTrack(track.ID())
		}
		if lerr != nil {
			log.Debug().Err(lerr).Str("module", "adapters.ws").Str("peer", string(id)).Msg("track change")
		}
		if err := link.Offer(); err != nil {
			log.Warn().Err(err).Str("module", "adapters.ws").Str("peer", string(id)).Msg("offer")
		}
	}
}

func (c *Client) PublishData(data []byte, reliable bool) error {
	return c.writeEnvelope(wire.Envelope{Type: wire.TypeData, Payload: data, Reliable: reliable})
}

func (c *Client) LocalIdentity() domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// SendOffer implements rtc.Signaler.
func (c *Client) SendOffer(to domain.Identity, sdp string) error {
	return c.writeEnvelope(wire.Envelope{Type: wire.TypeOffer, To: string(to), SDP: sdp})
}

// SendAnswer implements rtc.Signaler.
func (c *Client) SendAnswer(to domain.Identity, sdp string) error {
	return c.writeEnvelope(wire.Envelope{Type: wire.TypeAnswer, To: string(to), SDP: sdp})
}

// SendCandidate implements rtc.Signaler.
func (c *Client) SendCandidate(to domain.Identity, candidate string) error {
	return c.writeEnvelope(wire.Envelope{Type: wire.TypeCandidate, To: string(to), Candidate: candidate})
}

func (c *Client) writeEnvelope(env wire.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(env)
}
