package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/media"
	"github.com/dkeye/Stage/internal/protocol"
	"github.com/dkeye/Stage/internal/transport"
)

// fakeTransport records every command and lets tests emit events as the real
// adapter would, from its own goroutines.
type fakeTransport struct {
	mu          sync.Mutex
	subs        map[int]func(transport.Event)
	nextSub     int
	connects    int
	connectErrs []error
	micErr      error
	onMicEnable func()
	micCalls    []bool
	screenCalls []bool
	published   [][]byte
	disconnects int
	identity    domain.Identity
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[int]func(transport.Event)), identity: "me"}
}

func (f *fakeTransport) Subscribe(fn func(transport.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeTransport) Connect(ctx context.Context, url, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	f.mu.Lock()
	f.micCalls = append(f.micCalls, enabled)
	err := f.micErr
	hook := f.onMicEnable
	f.mu.Unlock()
	if !enabled {
		return nil
	}
	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeTransport) SetScreenShareEnabled(ctx context.Context, enabled bool, opts transport.ScreenShareOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenCalls = append(f.screenCalls, enabled)
	return nil
}

func (f *fakeTransport) PublishData(data []byte, reliable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, data)
	return nil
}

func (f *fakeTransport) LocalIdentity() domain.Identity { return f.identity }

func (f *fakeTransport) Emit(ev transport.Event) {
	f.mu.Lock()
	fns := make([]func(transport.Event), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeTransport) micHistory() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.micCalls))
	copy(out, f.micCalls)
	return out
}

func (f *fakeTransport) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeTransport) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeIssuer struct {
	mu    sync.Mutex
	err   error
	mints int
}

func (f *fakeIssuer) Mint(ctx context.Context, room domain.RoomID, role domain.Role) (Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mints++
	if f.err != nil {
		return Token{}, f.err
	}
	return Token{Value: "tok", Identity: "me"}, nil
}

type testSink struct{ muted bool }

func (s *testSink) SetMuted(m bool) { s.muted = m }
func (s *testSink) Close()          {}

type sinkCounter struct {
	mu      sync.Mutex
	created int
}

func (sc *sinkCounter) factory(transport.Producer) (media.Sink, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.created++
	return &testSink{}, nil
}

func (sc *sinkCounter) count() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.created
}

type testProducer struct {
	handle domain.TrackHandle
	kind   domain.TrackKind
}

func (p *testProducer) Handle() domain.TrackHandle { return p.handle }
func (p *testProducer) Kind() domain.TrackKind     { return p.kind }

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func waitState(t *testing.T, c *Controller, want domain.SessionState) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return c.Snapshot().State == want })
}

type harness struct {
	tr     *fakeTransport
	issuer *fakeIssuer
	mock   *clock.Mock
	sinks  *sinkCounter
	c      *Controller
}

func newHarness(t *testing.T, role domain.Role) *harness {
	t.Helper()
	h := &harness{
		tr:     newFakeTransport(),
		issuer: &fakeIssuer{},
		mock:   clock.NewMock(),
		sinks:  &sinkCounter{},
	}
	h.c = New(Config{
		RoomID:      "room-1",
		Role:        role,
		DisplayName: "Me",
		ServerURL:   "ws://stage.test",
	}, Deps{
		Transport: h.tr,
		Issuer:    h.issuer,
		Clock:     h.mock,
		NewSink:   h.sinks.factory,
	})
	t.Cleanup(h.c.Close)
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	if err := h.c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, h.c, domain.StateWaiting)
}

func audioEvent(identity, pub string) transport.Event {
	h := domain.TrackHandle{Participant: domain.Identity(identity), PublicationID: pub}
	return transport.Event{
		Kind:      transport.EventTrackSubscribed,
		Track:     h,
		TrackKind: domain.TrackAudio,
		Producer:  &testProducer{handle: h, kind: domain.TrackAudio},
	}
}

func screenEvent(kind transport.EventKind, identity string) transport.Event {
	return transport.Event{
		Kind:      kind,
		Track:     domain.TrackHandle{Participant: domain.Identity(identity), PublicationID: "screen-1"},
		TrackKind: domain.TrackScreen,
	}
}

func joined(identity, name string, role domain.Role) transport.Event {
	return transport.Event{
		Kind: transport.EventParticipantJoined,
		Participant: transport.Participant{
			Identity:    domain.Identity(identity),
			DisplayName: name,
			Role:        role,
		},
	}
}

func TestConnectSettlesToWaiting(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.connect(t)

	snap := h.c.Snapshot()
	if snap.State != domain.StateWaiting {
		t.Fatalf("expected waiting, got %s", snap.State)
	}
	if snap.Identity != "me" {
		t.Errorf("expected identity from transport, got %q", snap.Identity)
	}
	mics := h.tr.micHistory()
	if len(mics) != 1 || !mics[0] {
		t.Errorf("expected one mic enable, got %v", mics)
	}
}

func TestConnectWhileConnectedIsNoop(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.connect(t)

	if err := h.c.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if h.tr.connectCount() != 1 {
		t.Errorf("expected a single transport connect, got %d", h.tr.connectCount())
	}
}

func TestTokenFailureIsTerminal(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	wantErr := errors.New("issuer down")
	h.issuer.err = wantErr

	if err := h.c.Connect(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("expected issuer error, got %v", err)
	}
	if got := h.c.Snapshot().State; got != domain.StateFailed {
		t.Errorf("expected failed, got %s", got)
	}
	if h.tr.connectCount() != 0 {
		t.Error("must not touch the transport without a token")
	}
}

func TestInitialConnectFailureIsTerminal(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	wantErr := errors.New("dial refused")
	h.tr.connectErrs = []error{wantErr}

	if err := h.c.Connect(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("expected dial error, got %v", err)
	}
	if got := h.c.Snapshot().State; got != domain.StateFailed {
		t.Errorf("expected failed, got %s", got)
	}
}

func TestMicFailureIsWarningNotFatal(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.tr.micErr = errors.New("permission denied")

	if err := h.c.Connect(context.Background()); err != nil {
		t.Fatalf("connect must succeed without a mic: %v", err)
	}
	waitState(t, h.c, domain.StateWaiting)

	snap := h.c.Snapshot()
	if len(snap.Warnings) == 0 {
		t.Error("expected a mic warning")
	}
}

func TestScreenShareDrivesWaitingLiveWaiting(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.connect(t)

	h.tr.Emit(screenEvent(transport.EventTrackSubscribed, "pat"))
	waitState(t, h.c, domain.StateLive)

	h.tr.Emit(screenEvent(transport.EventTrackUnsubscribed, "pat"))
	waitState(t, h.c, domain.StateWaiting)

	// One notice per logical share event.
	var started, stopped int
	for _, m := range h.c.Snapshot().Messages {
		switch m.Text {
		case "screen share started":
			started++
		case "screen share stopped":
			stopped++
		}
	}
	if started != 1 || stopped != 1 {
		t.Errorf("expected one start and one stop notice, got %d/%d", started, stopped)
	}
}

func TestRosterAndJoinNotice(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.connect(t)

	h.tr.Emit(joined("bob", "Bob", domain.RoleViewer))
	waitFor(t, "bob in roster", func() bool {
		for _, e := range h.c.Snapshot().Roster {
			if e.Identity == "bob" {
				return true
			}
		}
		return false
	})

	// Redundant join event must not duplicate the notice.
	h.tr.Emit(joined("bob", "Bob", domain.RoleViewer))
	waitFor(t, "join notice", func() bool {
		n := 0
		for _, m := range h.c.Snapshot().Messages {
			if m.Kind == domain.KindSystem && m.Text == "Bob joined" {
				n++
			}
		}
		return n == 1
	})
}

func TestReconnectRehydratesMediaAndIntent(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.connect(t)

	h.tr.Emit(joined("bob", "Bob", domain.RoleViewer))
	h.tr.Emit(audioEvent("bob", "mic-1"))
	waitFor(t, "bob attached", func() bool { return h.sinks.count() == 1 })

	h.tr.Emit(transport.Event{Kind: transport.EventDisconnected, Reason: transport.ReasonLost})
	waitState(t, h.c, domain.StateReconnecting)
	if got := h.c.Snapshot().ReconnectAttempts; got != 1 {
		t.Errorf("expected attempt counter 1, got %d", got)
	}

	h.mock.Add(ReconnectBase)
	waitFor(t, "second transport connect", func() bool { return h.tr.connectCount() == 2 })
	waitState(t, h.c, domain.StateWaiting)

	// Desired mic reapplied after the reconnect.
	waitFor(t, "mic reapplied", func() bool {
		mics := h.tr.micHistory()
		return len(mics) == 2 && mics[1]
	})
	// Bob's producer reattached exactly once overall: attach is idempotent,
	// so the surviving sink is reused.
	if h.sinks.count() != 1 {
		t.Errorf("expected no duplicate sinks after rehydration, got %d", h.sinks.count())
	}
	if got := h.c.Snapshot().ReconnectAttempts; got != 0 {
		t.Errorf("expected attempt counter reset, got %d", got)
	}
}

func TestBackoffSchedule(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.connect(t)

	// Every retry fails until we say otherwise.
	h.tr.mu.Lock()
	h.tr.connectErrs = []error{
		errors.New("retry 1 fails"),
		errors.New("retry 2 fails"),
	}
	h.tr.mu.Unlock()

	h.tr.Emit(transport.Event{Kind: transport.EventDisconnected, Reason: transport.ReasonLost})
	waitState(t, h.c, domain.StateReconnecting)

	// Attempt 0: 500ms before retry 1.
	h.mock.Add(ReconnectBase - time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if h.tr.connectCount() != 1 {
		t.Fatalf("retry fired before the backoff delay, connects=%d", h.tr.connectCount())
	}
	h.mock.Add(time.Millisecond)
	waitFor(t, "retry 1", func() bool { return h.tr.connectCount() == 2 })

	// Attempt 1: 2s.
	waitFor(t, "attempt counter 2", func() bool { return h.c.Snapshot().ReconnectAttempts == 2 })
	h.mock.Add(2 * time.Second)
	waitFor(t, "retry 2", func() bool { return h.tr.connectCount() == 3 })

	// Attempt 2: capped schedule reaches 8s; this retry succeeds.
	waitFor(t, "attempt counter 3", func() bool { return h.c.Snapshot().ReconnectAttempts == 3 })
	h.mock.Add(ReconnectCap)
	waitFor(t, "retry 3", func() bool { return h.tr.connectCount() == 4 })
	waitState(t, h.c, domain.StateWaiting)
}

func TestSelfHealCyclesViewerBackToIdle(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.connect(t)

	h.mock.Add(DefaultSelfHealTimeout + time.Millisecond)
	waitState(t, h.c, domain.StateIdle)
	waitFor(t, "forced disconnect", func() bool { return h.tr.disconnectCount() >= 1 })
}

func TestSelfHealCancelledByMedia(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.connect(t)

	h.tr.Emit(joined("bob", "Bob", domain.RoleViewer))
	h.tr.Emit(audioEvent("bob", "mic-1"))
	waitFor(t, "audio attached", func() bool { return h.sinks.count() == 1 })

	h.mock.Add(10 * DefaultSelfHealTimeout)
	time.Sleep(20 * time.Millisecond)
	if got := h.c.Snapshot().State; got != domain.StateWaiting {
		t.Errorf("self-heal fired despite media, state %s", got)
	}
}

func TestSelfHealSparesMediaAttachedDuringPublish(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	// Audio subscription outraces the publish settle: the transport delivers
	// it while the mic enable is still in flight.
	h.tr.onMicEnable = func() {
		h.tr.Emit(joined("bob", "Bob", domain.RoleViewer))
		h.tr.Emit(audioEvent("bob", "mic-1"))
	}
	h.connect(t)
	waitFor(t, "audio attached", func() bool { return h.sinks.count() == 1 })

	h.mock.Add(DefaultSelfHealTimeout + time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if got := h.c.Snapshot().State; got != domain.StateWaiting {
		t.Errorf("self-heal fired despite attached media, state %s", got)
	}
	if got := h.tr.disconnectCount(); got != 0 {
		t.Errorf("expected no forced disconnect, got %d", got)
	}
}

func TestPresenterSkipsSelfHealAndBroadcasts(t *testing.T) {
	h := newHarness(t, domain.RolePresenter)
	h.connect(t)

	// Heartbeat after the settle delay...
	h.mock.Add(300 * time.Millisecond)
	waitFor(t, "first heartbeat", func() bool { return h.tr.publishedCount() == 1 })
	// ...and again after the repeat interval (t=5300ms).
	h.mock.Add(5 * time.Second)
	waitFor(t, "second heartbeat", func() bool { return h.tr.publishedCount() == 2 })

	// No self-heal for the presenter role.
	h.mock.Add(10 * DefaultSelfHealTimeout)
	time.Sleep(20 * time.Millisecond)
	if got := h.c.Snapshot().State; got != domain.StateWaiting {
		t.Errorf("expected presenter to stay waiting, got %s", got)
	}
}

func TestViewerLobbyGating(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.connect(t)

	if !h.c.Snapshot().InLobby {
		t.Fatal("viewer must start in lobby")
	}

	data, err := protocol.EncodePresenterReady(1234)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h.tr.Emit(transport.Event{Kind: transport.EventDataReceived, Data: data, Sender: "pat"})
	waitFor(t, "lobby exit", func() bool { return !h.c.Snapshot().InLobby })
}

func TestLobbyGateResetByConnectivityLoss(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.connect(t)

	data, _ := protocol.EncodePresenterReady(1)
	h.tr.Emit(transport.Event{Kind: transport.EventDataReceived, Data: data, Sender: "pat"})
	waitFor(t, "lobby exit", func() bool { return !h.c.Snapshot().InLobby })

	h.tr.Emit(transport.Event{Kind: transport.EventDisconnected, Reason: transport.ReasonLost})
	waitState(t, h.c, domain.StateReconnecting)
	waitFor(t, "lobby reentry", func() bool { return h.c.Snapshot().InLobby })

	h.mock.Add(ReconnectBase)
	waitState(t, h.c, domain.StateWaiting)
	if !h.c.Snapshot().InLobby {
		t.Error("a fresh presenter-ready signal is required after reconnect")
	}

	h.tr.Emit(transport.Event{Kind: transport.EventDataReceived, Data: data, Sender: "pat"})
	waitFor(t, "lobby exit after fresh signal", func() bool { return !h.c.Snapshot().InLobby })
}

func TestChatInboundAndDedup(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.connect(t)

	msg := domain.ChatMessage{ID: "9-aaaa", Kind: domain.KindChat, Sender: "bob", Role: domain.RoleViewer, Text: "hi", SentAtMs: 9}
	data, err := protocol.EncodeChat(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h.tr.Emit(transport.Event{Kind: transport.EventDataReceived, Data: data, Sender: "bob"})
	h.tr.Emit(transport.Event{Kind: transport.EventDataReceived, Data: data, Sender: "bob"})

	waitFor(t, "message accepted once", func() bool {
		n := 0
		for _, m := range h.c.Snapshot().Messages {
			if m.ID == msg.ID {
				n++
			}
		}
		return n == 1
	})
}

func TestSendChatEchoesAndPublishes(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.connect(t)

	if err := h.c.SendChat("hello there"); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	snap := h.c.Snapshot()
	found := false
	for _, m := range snap.Messages {
		if m.Text == "hello there" && m.Sender == "me" {
			found = true
		}
	}
	if !found {
		t.Error("expected local echo in log")
	}
	if h.tr.publishedCount() != 1 {
		t.Errorf("expected one published payload, got %d", h.tr.publishedCount())
	}
}

func TestLeaveEndsSessionAndUnsubscribes(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.connect(t)

	h.c.Leave()
	if got := h.c.Snapshot().State; got != domain.StateEnded {
		t.Fatalf("expected ended, got %s", got)
	}
	if h.tr.subscriberCount() != 0 {
		t.Error("transport listener leaked after leave")
	}
	waitFor(t, "disconnect issued", func() bool { return h.tr.disconnectCount() >= 1 })
}

func TestRejoinAfterFailure(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.tr.connectErrs = []error{errors.New("first dial fails")}

	if err := h.c.Connect(context.Background()); err == nil {
		t.Fatal("expected initial connect failure")
	}
	waitState(t, h.c, domain.StateFailed)

	rejoinErr := make(chan error, 1)
	go func() { rejoinErr <- h.c.Rejoin(context.Background()) }()

	waitState(t, h.c, domain.StateIdle)
	h.mock.Add(RejoinDelay)

	select {
	case err := <-rejoinErr:
		if err != nil {
			t.Fatalf("rejoin: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("rejoin did not complete")
	}
	waitState(t, h.c, domain.StateWaiting)
}

func TestRestartAudioBouncesMicAndReattaches(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	h.connect(t)

	h.tr.Emit(joined("bob", "Bob", domain.RoleViewer))
	h.tr.Emit(audioEvent("bob", "mic-1"))
	waitFor(t, "audio attached", func() bool { return h.sinks.count() == 1 })

	if err := h.c.RestartAudio(context.Background()); err != nil {
		t.Fatalf("restart audio: %v", err)
	}
	mics := h.tr.micHistory()
	if len(mics) != 3 || mics[1] != false || mics[2] != true {
		t.Errorf("expected enable,disable,enable history, got %v", mics)
	}
}

func TestRestartAudioRequiresConnection(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	if err := h.c.RestartAudio(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestScreenShareRequiresPresenter(t *testing.T) {
	h := newHarness(t, domain.RoleViewer)
	if err := h.c.SetScreenShareEnabled(context.Background(), true); !errors.Is(err, ErrNotPresenter) {
		t.Errorf("expected ErrNotPresenter, got %v", err)
	}
}

// TestEventStormKeepsStateDefined feeds every event kind from a variety of
// session phases and asserts the state machine never leaves its enum.
func TestEventStormKeepsStateDefined(t *testing.T) {
	allEvents := func() []transport.Event {
		return []transport.Event{
			{Kind: transport.EventConnected},
			{Kind: transport.EventReconnecting},
			{Kind: transport.EventReconnected},
			{Kind: transport.EventDisconnected, Reason: transport.ReasonLost},
			joined("bob", "Bob", domain.RoleViewer),
			{Kind: transport.EventParticipantLeft, Participant: transport.Participant{Identity: "bob"}},
			audioEvent("bob", "mic-1"),
			{Kind: transport.EventTrackUnsubscribed, Track: domain.TrackHandle{Participant: "bob", PublicationID: "mic-1"}, TrackKind: domain.TrackAudio},
			screenEvent(transport.EventTrackSubscribed, "pat"),
			screenEvent(transport.EventTrackUnsubscribed, "pat"),
			{Kind: transport.EventTrackPublished, Track: domain.TrackHandle{Participant: "pat", PublicationID: "screen-1"}},
			{Kind: transport.EventTrackMuted, Track: domain.TrackHandle{Participant: "bob"}},
			{Kind: transport.EventTrackUnmuted, Track: domain.TrackHandle{Participant: "bob"}},
			{Kind: transport.EventMediaDeviceError, Err: errors.New("device lost")},
			{Kind: transport.EventDataReceived, Data: []byte("garbage")},
		}
	}

	valid := map[domain.SessionState]bool{
		domain.StateIdle: true, domain.StateConnecting: true, domain.StateConnected: true,
		domain.StatePublishing: true, domain.StateWaiting: true, domain.StateLive: true,
		domain.StateReconnecting: true, domain.StateFailed: true, domain.StateEnded: true,
		domain.StateError: true,
	}

	h := newHarness(t, domain.RoleViewer)
	h.connect(t)

	for round := 0; round < 4; round++ {
		for _, ev := range allEvents() {
			h.tr.Emit(ev)
			if st := h.c.Snapshot().State; !valid[st] {
				t.Fatalf("undefined state %d after %s", st, ev.Kind)
			}
		}
		// Drive any pending retries so later rounds start connected again.
		h.mock.Add(ReconnectCap)
		time.Sleep(10 * time.Millisecond)
	}
}
