package media

import (
	"errors"
	"testing"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/transport"
)

type fakeProducer struct {
	handle domain.TrackHandle
	kind   domain.TrackKind
}

func (p *fakeProducer) Handle() domain.TrackHandle { return p.handle }
func (p *fakeProducer) Kind() domain.TrackKind     { return p.kind }

type fakeSink struct {
	muted  bool
	closed bool
}

func (s *fakeSink) SetMuted(m bool) { s.muted = m }
func (s *fakeSink) Close()          { s.closed = true }

func audioProducer(identity, pub string) *fakeProducer {
	return &fakeProducer{
		handle: domain.TrackHandle{Participant: domain.Identity(identity), PublicationID: pub},
		kind:   domain.TrackAudio,
	}
}

// countingFactory records every sink it creates.
func countingFactory() (SinkFactory, *[]*fakeSink) {
	sinks := &[]*fakeSink{}
	factory := func(p transport.Producer) (Sink, error) {
		s := &fakeSink{}
		*sinks = append(*sinks, s)
		return s, nil
	}
	return factory, sinks
}

func TestAttachIsIdempotent(t *testing.T) {
	factory, sinks := countingFactory()
	m := NewManager(factory)
	p := audioProducer("alice", "pub-1")

	if err := m.Attach(p); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.Attach(p); err != nil {
		t.Fatalf("second attach: %v", err)
	}

	if len(*sinks) != 1 {
		t.Errorf("expected exactly one sink, got %d", len(*sinks))
	}
	if m.AttachedCount() != 1 {
		t.Errorf("expected 1 attachment, got %d", m.AttachedCount())
	}
}

func TestDetachUnknownHandleIsNoop(t *testing.T) {
	factory, _ := countingFactory()
	m := NewManager(factory)
	m.Detach(domain.TrackHandle{Participant: "ghost", PublicationID: "nope"})
	if m.AttachedCount() != 0 {
		t.Errorf("expected 0 attachments, got %d", m.AttachedCount())
	}
}

func TestDetachReleasesSink(t *testing.T) {
	factory, sinks := countingFactory()
	m := NewManager(factory)
	p := audioProducer("alice", "pub-1")
	if err := m.Attach(p); err != nil {
		t.Fatalf("attach: %v", err)
	}

	m.Detach(p.Handle())

	if !(*sinks)[0].closed {
		t.Error("expected sink to be closed on detach")
	}
	if m.Attached(p.Handle()) {
		t.Error("expected handle to be detached")
	}
}

func TestSinkFactoryErrorSurfaces(t *testing.T) {
	wantErr := errors.New("autoplay blocked")
	m := NewManager(func(p transport.Producer) (Sink, error) { return nil, wantErr })
	if err := m.Attach(audioProducer("alice", "pub-1")); !errors.Is(err, wantErr) {
		t.Errorf("expected factory error, got %v", err)
	}
	if m.AttachedCount() != 0 {
		t.Error("failed attach must not record a sink")
	}
}

func TestGlobalMuteAppliesToExistingAndNewSinks(t *testing.T) {
	factory, sinks := countingFactory()
	m := NewManager(factory)
	if err := m.Attach(audioProducer("alice", "pub-1")); err != nil {
		t.Fatalf("attach: %v", err)
	}

	m.SetGlobalMute(true)
	if !(*sinks)[0].muted {
		t.Error("expected existing sink muted")
	}

	if err := m.Attach(audioProducer("bob", "pub-2")); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !(*sinks)[1].muted {
		t.Error("expected new sink to inherit mute preference")
	}

	m.SetGlobalMute(false)
	for i, s := range *sinks {
		if s.muted {
			t.Errorf("sink %d still muted after unmute", i)
		}
	}
}

func TestReattachAllAfterReconnect(t *testing.T) {
	factory, sinks := countingFactory()
	m := NewManager(factory)
	alice := audioProducer("alice", "pub-1")
	bob := audioProducer("bob", "pub-2")
	if err := m.Attach(alice); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.Attach(bob); err != nil {
		t.Fatalf("attach: %v", err)
	}

	// The transport forgot everything; sinks are gone but the known set
	// remains.
	m.Detach(alice.Handle())
	m.Detach(bob.Handle())
	if m.AttachedCount() != 0 {
		t.Fatalf("expected no attachments, got %d", m.AttachedCount())
	}

	m.ReattachAll(func(domain.Identity) bool { return true })

	if m.AttachedCount() != 2 {
		t.Errorf("expected both producers reattached, got %d", m.AttachedCount())
	}
	// Two original sinks plus two replacements; no duplicates per handle.
	if len(*sinks) != 4 {
		t.Errorf("expected 4 sinks created in total, got %d", len(*sinks))
	}

	// Reattaching again must not create duplicates.
	m.ReattachAll(func(domain.Identity) bool { return true })
	if m.AttachedCount() != 2 {
		t.Errorf("expected attach to stay idempotent, got %d", m.AttachedCount())
	}
	if len(*sinks) != 4 {
		t.Errorf("expected no extra sinks, got %d", len(*sinks))
	}
}

func TestReattachAllDropsDepartedIdentities(t *testing.T) {
	factory, _ := countingFactory()
	m := NewManager(factory)
	alice := audioProducer("alice", "pub-1")
	bob := audioProducer("bob", "pub-2")
	if err := m.Attach(alice); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.Attach(bob); err != nil {
		t.Fatalf("attach: %v", err)
	}

	m.ReattachAll(func(id domain.Identity) bool { return id == "alice" })

	if !m.Attached(alice.Handle()) {
		t.Error("expected alice to stay attached")
	}
	if m.Attached(bob.Handle()) {
		t.Error("expected bob to be dropped")
	}
}

func TestDetachAllClearsKnownSet(t *testing.T) {
	factory, _ := countingFactory()
	m := NewManager(factory)
	if err := m.Attach(audioProducer("alice", "pub-1")); err != nil {
		t.Fatalf("attach: %v", err)
	}

	m.DetachAll()
	m.ReattachAll(func(domain.Identity) bool { return true })

	if m.AttachedCount() != 0 {
		t.Errorf("expected nothing to reattach after DetachAll, got %d", m.AttachedCount())
	}
}
