// Package session owns the connection lifecycle: one state machine that turns
// transport events, timer firings and user commands into a consistent,
// recoverable session. All state lives behind a single event loop; async work
// (token minting, transport calls) runs off-loop and posts its result back.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/chat"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/media"
	"github.com/dkeye/Stage/internal/presence"
	"github.com/dkeye/Stage/internal/protocol"
	"github.com/dkeye/Stage/internal/roster"
	"github.com/dkeye/Stage/internal/transport"
)

const (
	// DefaultSelfHealTimeout bounds how long a viewer may sit connected
	// with nothing to show before being cycled back to idle.
	DefaultSelfHealTimeout = 8 * time.Second

	// RejoinDelay separates the teardown from the fresh connect.
	RejoinDelay = 500 * time.Millisecond
)

var (
	ErrNotConnected = errors.New("session not connected")
	ErrNotPresenter = errors.New("operation requires the presenter role")
	ErrClosed       = errors.New("controller closed")
)

// Config describes one session. Zero durations pick the defaults.
type Config struct {
	RoomID          domain.RoomID
	Role            domain.Role
	DisplayName     string
	ServerURL       string
	SelfHealTimeout time.Duration
	GraceWindow     time.Duration
}

// Deps are the collaborators a controller composes. NewSink may be nil for
// headless use; OnChange may be nil.
type Deps struct {
	Transport transport.Transport
	Issuer    TokenIssuer
	Clock     clock.Clock
	NewSink   media.SinkFactory
	OnChange  func(Snapshot)
}

// Snapshot is a read-only view for the UI.
type Snapshot struct {
	State              domain.SessionState
	Role               domain.Role
	RoomID             domain.RoomID
	Identity           domain.Identity
	PresenterReady     bool
	InLobby            bool
	ScreenVisible      bool
	DesiredMic         bool
	DesiredScreenShare bool
	ReconnectAttempts  uint
	Warnings           []string
	Roster             []domain.RosterEntry
	Messages           []domain.ChatMessage
}

type noopSink struct{}

func (noopSink) SetMuted(bool) {}
func (noopSink) Close()        {}

// Controller is the top-level orchestrator. Public methods are safe from any
// goroutine; every mutation happens on the loop.
type Controller struct {
	cfg    Config
	tr     transport.Transport
	issuer TokenIssuer
	clk    clock.Clock

	media   *media.Manager
	roster  *roster.Builder
	chatlog *chat.Log
	gate    *presence.Gate
	beacon  *presence.Broadcaster

	cmds chan func()
	quit chan struct{}

	onChange func(Snapshot)

	mu       sync.Mutex
	sess     domain.Session
	warnings []string

	// Loop-owned; never touched off-loop.
	gen           uint64
	unsub         func()
	connCtx       context.Context
	connCancel    context.CancelFunc
	selfHeal      *clock.Timer
	retry         *clock.Timer
	screenVisible bool
	mediaSeen     bool
	closing       bool
}

func New(cfg Config, deps Deps) *Controller {
	if cfg.SelfHealTimeout <= 0 {
		cfg.SelfHealTimeout = DefaultSelfHealTimeout
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = roster.DefaultGraceWindow
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	sinks := deps.NewSink
	if sinks == nil {
		sinks = func(transport.Producer) (media.Sink, error) { return noopSink{}, nil }
	}

	c := &Controller{
		cfg:      cfg,
		tr:       deps.Transport,
		issuer:   deps.Issuer,
		clk:      clk,
		media:    media.NewManager(sinks),
		roster:   roster.NewBuilder(clk, cfg.GraceWindow),
		cmds:     make(chan func(), 256),
		quit:     make(chan struct{}),
		onChange: deps.OnChange,
		sess: domain.Session{
			State:      domain.StateIdle,
			Role:       cfg.Role,
			RoomID:     cfg.RoomID,
			DesiredMic: true,
		},
	}
	c.chatlog = chat.NewLog(deps.Transport.PublishData)
	c.gate = presence.NewGate(nil)
	c.beacon = presence.NewBroadcaster(clk, deps.Transport.PublishData)
	c.roster.OnRemoved(func(p transport.Participant) {
		c.post(func() { c.systemNotice(p.DisplayName + " left") })
	})

	go c.loop()
	return c
}

func (c *Controller) loop() {
	for {
		select {
		case fn := <-c.cmds:
			fn()
			if c.onChange != nil {
				c.onChange(c.Snapshot())
			}
			if c.closing {
				close(c.quit)
				return
			}
		case <-c.quit:
			return
		}
	}
}

// post schedules fn on the loop; dropped once the controller is closed.
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.quit:
	}
}

// Close tears the controller down and stops the loop. Idempotent.
func (c *Controller) Close() {
	c.post(func() {
		c.teardown()
		c.transition(domain.StateEnded, "closed")
		c.closing = true
	})
	<-c.quit
}

// ---- state plumbing ----

func (c *Controller) state() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.State
}

func (c *Controller) transition(to domain.SessionState, why string) {
	c.mu.Lock()
	from := c.sess.State
	c.sess.State = to
	c.mu.Unlock()
	if from != to {
		log.Info().Str("module", "session").Str("from", from.String()).Str("to", to.String()).Str("why", why).Msg("state")
	}
}

func (c *Controller) warn(msg string, err error) {
	log.Warn().Err(err).Str("module", "session").Msg(msg)
	c.mu.Lock()
	c.warnings = append(c.warnings, msg)
	c.mu.Unlock()
}

// Snapshot returns the current derived view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	sess := c.sess
	warnings := make([]string, len(c.warnings))
	copy(warnings, c.warnings)
	screen := c.screenVisible
	c.mu.Unlock()

	ready := c.gate.Ready() || sess.Role == domain.RolePresenter
	return Snapshot{
		State:              sess.State,
		Role:               sess.Role,
		RoomID:             sess.RoomID,
		Identity:           sess.Identity,
		PresenterReady:     ready,
		InLobby:            sess.Role == domain.RoleViewer && !c.gate.Ready(),
		ScreenVisible:      screen,
		DesiredMic:         sess.DesiredMic,
		DesiredScreenShare: sess.DesiredScreenShare,
		ReconnectAttempts:  sess.ReconnectAttempts,
		Warnings:           warnings,
		Roster:             c.roster.Snapshot(),
		Messages:           c.chatlog.Messages(),
	}
}

func (c *Controller) setScreenVisible(v bool) {
	c.mu.Lock()
	c.screenVisible = v
	c.mu.Unlock()
}

// ---- connect ----

// Connect opens the session. It returns once the transport is connected (the
// publishing settle continues in the background) or the attempt terminally
// fails. Calling it while already connecting or connected is a no-op.
func (c *Controller) Connect(ctx context.Context) error {
	res := make(chan error, 1)
	c.post(func() { c.startConnect(ctx, res) })
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return ErrClosed
	}
}

func (c *Controller) startConnect(ctx context.Context, res chan<- error) {
	st := c.state()
	if st != domain.StateIdle && !st.Terminal() {
		log.Debug().Str("module", "session").Str("state", st.String()).Msg("connect ignored, session already in flight")
		res <- nil
		return
	}

	c.gen++
	gen := c.gen
	c.transition(domain.StateConnecting, "connect requested")

	c.connCtx, c.connCancel = context.WithCancel(context.Background())

	go c.runConnect(ctx, c.connCtx, gen, res)
}

func (c *Controller) runConnect(ctx, connCtx context.Context, gen uint64, res chan<- error) {
	tok, err := c.issuer.Mint(ctx, c.cfg.RoomID, c.sessRole())
	if err != nil {
		c.post(func() {
			if gen != c.gen {
				return
			}
			c.transition(domain.StateFailed, "token issuance failed")
			res <- err
		})
		return
	}

	// Handlers must be live before the open call; nothing between open and
	// attachment may be missed.
	unsub := c.tr.Subscribe(c.dispatch)

	if err := c.tr.Connect(ctx, c.cfg.ServerURL, tok.Value); err != nil {
		unsub()
		c.post(func() {
			if gen != c.gen {
				return
			}
			c.transition(domain.StateFailed, "transport connect failed")
			res <- err
		})
		return
	}

	c.post(func() {
		if gen != c.gen {
			unsub()
			go func() { _ = c.tr.Disconnect() }()
			return
		}
		if c.unsub != nil {
			c.unsub()
		}
		c.unsub = unsub

		identity := tok.Identity
		if id := c.tr.LocalIdentity(); id != "" {
			identity = id
		}
		c.mu.Lock()
		c.sess.Identity = identity
		c.mu.Unlock()
		c.roster.SetLocal(transport.Participant{
			Identity:    identity,
			DisplayName: c.cfg.DisplayName,
			Role:        c.cfg.Role,
		})

		c.transition(domain.StateConnected, "transport connected")
		res <- nil
		c.beginPublishing(connCtx, gen, false)
	})
}

func (c *Controller) sessRole() domain.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Role
}

// beginPublishing reapplies desired media, then settles to Waiting or Live.
// After a reconnect it additionally reattaches every known remote producer,
// because the transport dropped all of that state.
func (c *Controller) beginPublishing(connCtx context.Context, gen uint64, afterReconnect bool) {
	c.transition(domain.StatePublishing, "applying desired media")

	c.mu.Lock()
	wantMic := c.sess.DesiredMic
	wantScreen := c.sess.DesiredScreenShare && c.sess.Role == domain.RolePresenter
	c.mu.Unlock()

	go func() {
		var micErr, screenErr error
		if wantMic {
			micErr = c.tr.SetMicrophoneEnabled(connCtx, true)
		}
		if wantScreen {
			screenErr = c.tr.SetScreenShareEnabled(connCtx, true, transport.ScreenShareOptions{})
		}
		c.post(func() {
			if gen != c.gen {
				return
			}
			// Mic failure is "enable mic" failing, not the connection
			// failing.
			if micErr != nil {
				c.warn("microphone unavailable", micErr)
			}
			if screenErr != nil {
				c.warn("screen share restore failed", screenErr)
			}
			if afterReconnect {
				c.media.ReattachAll(c.roster.Live)
			}
			c.settle(connCtx, gen)
		})
	}()
}

func (c *Controller) settle(connCtx context.Context, gen uint64) {
	switch c.state() {
	case domain.StateConnected, domain.StatePublishing:
	default:
		// Connectivity changed under the publishing step; the newer
		// transition owns the state now.
		return
	}
	if c.screenShareVisible() {
		c.transition(domain.StateLive, "screen share visible")
	} else {
		c.transition(domain.StateWaiting, "no screen share yet")
	}

	if c.sessRole() == domain.RolePresenter {
		c.beacon.Start(connCtx)
	} else {
		c.armSelfHeal(gen)
	}
}

func (c *Controller) screenShareVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screenVisible
}

// ---- self-healing timeout ----

func (c *Controller) armSelfHeal(gen uint64) {
	c.stopSelfHeal()
	// Media can outrace the publishing settle; an observation made before
	// the timer would be armed counts the same as one after.
	if c.mediaSeen || c.media.AttachedCount() > 0 {
		return
	}
	c.selfHeal = c.clk.AfterFunc(c.cfg.SelfHealTimeout, func() {
		c.post(func() { c.selfHealFire(gen) })
	})
}

func (c *Controller) stopSelfHeal() {
	if c.selfHeal != nil {
		c.selfHeal.Stop()
		c.selfHeal = nil
	}
}

func (c *Controller) selfHealFire(gen uint64) {
	if gen != c.gen || c.mediaSeen {
		return
	}
	switch c.state() {
	case domain.StateConnected, domain.StatePublishing, domain.StateWaiting:
	default:
		return
	}
	log.Warn().Str("module", "session").Dur("timeout", c.cfg.SelfHealTimeout).Msg("no media observed, cycling back to idle")
	c.teardown()
	go func() { _ = c.tr.Disconnect() }()
	c.transition(domain.StateIdle, "self-heal timeout")
}

// ---- transport events ----

func (c *Controller) dispatch(ev transport.Event) {
	c.post(func() { c.handleEvent(ev) })
}

func (c *Controller) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		// State is driven by the connect completion; this is telemetry.
		log.Debug().Str("module", "session").Msg("transport reports connected")

	case transport.EventReconnecting:
		c.onConnectivityLost("transport reconnecting", false)

	case transport.EventReconnected:
		if c.state() != domain.StateReconnecting {
			return
		}
		c.mu.Lock()
		c.sess.ReconnectAttempts = 0
		c.mu.Unlock()
		c.transition(domain.StateConnected, "connectivity restored")
		c.beginPublishing(c.connContext(), c.gen, true)

	case transport.EventDisconnected:
		c.onDisconnected(ev.Reason)

	case transport.EventParticipantJoined:
		if c.roster.Join(ev.Participant) {
			c.systemNotice(ev.Participant.DisplayName + " joined")
		}

	case transport.EventParticipantLeft:
		c.roster.Leave(ev.Participant.Identity)

	case transport.EventTrackSubscribed:
		c.onTrackSubscribed(ev)

	case transport.EventTrackUnsubscribed:
		c.onTrackUnsubscribed(ev)

	case transport.EventTrackPublished, transport.EventTrackUnpublished:
		log.Debug().Str("module", "session").Str("event", ev.Kind.String()).Str("participant", string(ev.Track.Participant)).Msg("publication change")

	case transport.EventTrackMuted:
		c.roster.SetMuted(ev.Track.Participant, true)

	case transport.EventTrackUnmuted:
		c.roster.SetMuted(ev.Track.Participant, false)

	case transport.EventMediaDeviceError:
		c.warn("media device error", ev.Err)

	case transport.EventDataReceived:
		c.onData(ev)

	default:
		log.Warn().Str("module", "session").Str("event", ev.Kind.String()).Msg("unhandled transport event")
	}
}

// connContext is the lifetime of the current connection; the beacon and
// media commands hang off it and connCancel tears them down.
func (c *Controller) connContext() context.Context {
	if c.connCtx != nil {
		return c.connCtx
	}
	return context.Background()
}

func (c *Controller) onConnectivityLost(why string, scheduleRetry bool) {
	switch c.state() {
	case domain.StateConnected, domain.StatePublishing, domain.StateWaiting, domain.StateLive:
	default:
		return
	}
	c.transition(domain.StateReconnecting, why)
	c.beacon.Stop()
	c.stopSelfHeal()
	// The self-heal window after a reconnect starts from scratch; pre-loss
	// observations no longer count.
	c.mediaSeen = false
	// Lobby gating starts over: a fresh presenter-ready signal is required
	// after connectivity returns.
	c.gate.Reset()

	if scheduleRetry {
		c.scheduleRetry()
	} else {
		c.mu.Lock()
		c.sess.ReconnectAttempts++
		c.mu.Unlock()
	}
}

func (c *Controller) onDisconnected(reason transport.DisconnectReason) {
	switch reason {
	case transport.ReasonLost:
		if c.state() == domain.StateReconnecting {
			// A native reconnect gave up; take over the retrying.
			if c.retry == nil {
				c.scheduleRetry()
			}
			return
		}
		c.onConnectivityLost("connection lost", true)
	default:
		// Local or remote explicit disconnect ends the session.
		if st := c.state(); st == domain.StateEnded || st == domain.StateIdle {
			return
		}
		c.teardown()
		c.transition(domain.StateEnded, "disconnected: "+string(reason))
	}
}

// ---- controller-driven reconnect ----

func (c *Controller) scheduleRetry() {
	c.mu.Lock()
	attempt := c.sess.ReconnectAttempts
	c.sess.ReconnectAttempts++
	c.mu.Unlock()

	delay := ReconnectDelay(attempt)
	gen := c.gen
	log.Info().Str("module", "session").Uint("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")

	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = c.clk.AfterFunc(delay, func() {
		c.post(func() { c.fireRetry(gen) })
	})
}

func (c *Controller) fireRetry(gen uint64) {
	c.retry = nil
	if gen != c.gen || c.state() != domain.StateReconnecting {
		return
	}
	connCtx := c.connContext()
	go func() {
		tok, err := c.issuer.Mint(connCtx, c.cfg.RoomID, c.sessRole())
		if err == nil {
			err = c.tr.Connect(connCtx, c.cfg.ServerURL, tok.Value)
		}
		c.post(func() {
			if gen != c.gen || c.state() != domain.StateReconnecting {
				return
			}
			if err != nil {
				log.Warn().Err(err).Str("module", "session").Msg("reconnect attempt failed")
				c.scheduleRetry()
				return
			}
			c.mu.Lock()
			c.sess.ReconnectAttempts = 0
			c.mu.Unlock()
			c.transition(domain.StateConnected, "reconnected")
			c.beginPublishing(connCtx, gen, true)
		})
	}()
}

// ---- tracks ----

func (c *Controller) onTrackSubscribed(ev transport.Event) {
	c.mediaSeen = true
	// Any media attachment cancels the self-heal timer instantly.
	c.stopSelfHeal()

	switch ev.TrackKind {
	case domain.TrackAudio:
		if ev.Producer == nil {
			return
		}
		if err := c.media.Attach(ev.Producer); err != nil {
			c.warn("audio attach failed", err)
		}
	case domain.TrackScreen:
		if !c.screenShareVisible() {
			c.setScreenVisible(true)
			c.systemNotice("screen share started")
		}
		switch c.state() {
		case domain.StateConnected, domain.StatePublishing, domain.StateWaiting:
			c.transition(domain.StateLive, "screen share visible")
		}
	}
}

func (c *Controller) onTrackUnsubscribed(ev transport.Event) {
	switch ev.TrackKind {
	case domain.TrackAudio:
		c.media.Forget(ev.Track)
	case domain.TrackScreen:
		if c.screenShareVisible() {
			c.setScreenVisible(false)
			c.systemNotice("screen share stopped")
		}
		if c.state() == domain.StateLive {
			c.transition(domain.StateWaiting, "screen share gone")
		}
	}
}

// ---- data channel ----

func (c *Controller) onData(ev transport.Event) {
	dec, err := protocol.Decode(ev.Data)
	if err != nil {
		// Foreign payloads share the channel; only recognized-but-broken
		// envelopes earn a log line.
		if errors.Is(err, protocol.ErrMissingField) {
			log.Warn().Str("module", "session").Str("sender", string(ev.Sender)).Msg("dropping malformed envelope")
		}
		return
	}
	switch {
	case dec.Presence != nil:
		if c.sessRole() == domain.RoleViewer {
			c.gate.Signal(*dec.Presence)
		}
	case dec.Chat != nil:
		c.chatlog.Accept(*dec.Chat)
	}
}

func (c *Controller) systemNotice(text string) {
	m := domain.NewSystemMessage(text, c.clk.Now().UnixMilli())
	c.chatlog.Accept(m)
}

// ---- public operations ----

// Leave ends the session explicitly and releases every owned resource.
func (c *Controller) Leave() {
	done := make(chan struct{})
	c.post(func() {
		defer close(done)
		if st := c.state(); st == domain.StateEnded || st == domain.StateIdle {
			return
		}
		c.teardown()
		go func() { _ = c.tr.Disconnect() }()
		c.transition(domain.StateEnded, "leave")
	})
	select {
	case <-done:
	case <-c.quit:
	}
}

// Rejoin fully tears down, waits briefly and re-runs the connect sequence.
// Intended after Failed/Error, but usable from any state.
func (c *Controller) Rejoin(ctx context.Context) error {
	res := make(chan error, 1)
	c.post(func() {
		c.teardown()
		go func() { _ = c.tr.Disconnect() }()
		c.transition(domain.StateIdle, "rejoin teardown")

		t := c.clk.Timer(RejoinDelay)
		go func() {
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				res <- ctx.Err()
				return
			}
			c.post(func() { c.startConnect(ctx, res) })
		}()
	})
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return ErrClosed
	}
}

// RestartAudio bounces the local microphone publication and reattaches all
// known remote audio. For when audio degrades without a full disconnect.
func (c *Controller) RestartAudio(ctx context.Context) error {
	res := make(chan error, 1)
	c.post(func() {
		switch c.state() {
		case domain.StateConnected, domain.StatePublishing, domain.StateWaiting, domain.StateLive:
		default:
			res <- ErrNotConnected
			return
		}
		gen := c.gen
		c.mu.Lock()
		wantMic := c.sess.DesiredMic
		c.mu.Unlock()
		go func() {
			if err := c.tr.SetMicrophoneEnabled(ctx, false); err != nil {
				log.Warn().Err(err).Str("module", "session").Msg("mic disable during restart")
			}
			var enableErr error
			if wantMic {
				enableErr = c.tr.SetMicrophoneEnabled(ctx, true)
			}
			c.post(func() {
				if gen != c.gen {
					res <- nil
					return
				}
				if enableErr != nil {
					c.warn("microphone restart failed", enableErr)
				}
				c.media.ReattachAll(c.roster.Live)
				res <- nil
			})
		}()
	})
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return ErrClosed
	}
}

// SetMicrophoneEnabled records intent and applies it when connected. The
// intent survives reconnects; rehydration reapplies it.
func (c *Controller) SetMicrophoneEnabled(ctx context.Context, enabled bool) {
	c.post(func() {
		c.mu.Lock()
		c.sess.DesiredMic = enabled
		c.mu.Unlock()
		switch c.state() {
		case domain.StateConnected, domain.StatePublishing, domain.StateWaiting, domain.StateLive:
		default:
			return
		}
		gen := c.gen
		go func() {
			if err := c.tr.SetMicrophoneEnabled(ctx, enabled); err != nil {
				c.post(func() {
					if gen != c.gen {
						return
					}
					c.warn("microphone toggle failed", err)
				})
			}
		}()
	})
}

// SetScreenShareEnabled records intent and applies it. Presenter only.
func (c *Controller) SetScreenShareEnabled(ctx context.Context, enabled bool) error {
	if c.sessRole() != domain.RolePresenter {
		return ErrNotPresenter
	}
	c.post(func() {
		c.mu.Lock()
		c.sess.DesiredScreenShare = enabled
		c.mu.Unlock()
		switch c.state() {
		case domain.StateConnected, domain.StatePublishing, domain.StateWaiting, domain.StateLive:
		default:
			return
		}
		gen := c.gen
		go func() {
			err := c.tr.SetScreenShareEnabled(ctx, enabled, transport.ScreenShareOptions{})
			c.post(func() {
				if gen != c.gen {
					return
				}
				if err != nil {
					// Stop failures included: local-recoverable, never
					// escalated.
					c.warn("screen share toggle failed", err)
					return
				}
				if enabled && !c.screenShareVisible() {
					c.setScreenVisible(true)
					c.systemNotice("screen share started")
					if st := c.state(); st == domain.StateWaiting || st == domain.StateConnected || st == domain.StatePublishing {
						c.transition(domain.StateLive, "local screen share up")
					}
				}
				if !enabled && c.screenShareVisible() {
					c.setScreenVisible(false)
					c.systemNotice("screen share stopped")
					if c.state() == domain.StateLive {
						c.transition(domain.StateWaiting, "local screen share down")
					}
				}
			})
		}()
	})
	return nil
}

// SetSpeakerMuted is a local-only control over rendered audio.
func (c *Controller) SetSpeakerMuted(muted bool) {
	c.media.SetGlobalMute(muted)
}

// SendChat applies local echo immediately and publishes best-effort.
func (c *Controller) SendChat(text string) error {
	c.mu.Lock()
	sender := c.sess.Identity
	role := c.sess.Role
	c.mu.Unlock()
	if sender == "" {
		return ErrNotConnected
	}
	m, err := domain.NewChatMessage(sender, role, text, c.clk.Now().UnixMilli())
	if err != nil {
		return err
	}
	return c.chatlog.Send(m)
}

// ---- teardown ----

// teardown cancels timers, listeners and owned media. It leaves the chat log
// intact for display and invalidates every in-flight async completion.
func (c *Controller) teardown() {
	c.gen++
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
		c.connCtx = nil
	}
	c.beacon.Stop()
	c.stopSelfHeal()
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.media.DetachAll()
	c.roster.Reset()
	c.gate.Reset()
	c.setScreenVisible(false)
	c.mediaSeen = false
	c.mu.Lock()
	c.sess.ReconnectAttempts = 0
	c.mu.Unlock()
}
