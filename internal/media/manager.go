// Package media owns the mapping from remote audio producers to locally
// rendered sinks. One sink per track handle, never more.
package media

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/transport"
)

// Sink is a locally rendered output for one remote producer. The factory
// owns playout; the manager owns lifecycle and mute.
type Sink interface {
	SetMuted(muted bool)
	Close()
}

// SinkFactory creates the render sink for a producer. Autoplay or device
// failures surface here; the manager logs them as warnings and carries on.
type SinkFactory func(p transport.Producer) (Sink, error)

// Manager tracks attachments. Attach is idempotent, Detach tolerates unknown
// handles, and the known-producer set survives detachment so a post-reconnect
// rehydration can reattach everything that was visible before the drop.
type Manager struct {
	newSink SinkFactory

	mu    sync.Mutex
	sinks map[domain.TrackHandle]Sink
	known map[domain.TrackHandle]transport.Producer
	muted bool
}

func NewManager(newSink SinkFactory) *Manager {
	return &Manager{
		newSink: newSink,
		sinks:   make(map[domain.TrackHandle]Sink),
		known:   make(map[domain.TrackHandle]transport.Producer),
	}
}

// Attach renders p locally. Calling it again for the same handle is a no-op.
func (m *Manager) Attach(p transport.Producer) error {
	h := p.Handle()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.known[h] = p
	if _, ok := m.sinks[h]; ok {
		log.Debug().Str("module", "media").Str("participant", string(h.Participant)).Str("publication", h.PublicationID).Msg("already attached, skipping")
		return nil
	}

	sink, err := m.newSink(p)
	if err != nil {
		return err
	}
	sink.SetMuted(m.muted)
	m.sinks[h] = sink
	log.Info().Str("module", "media").Str("participant", string(h.Participant)).Str("publication", h.PublicationID).Msg("attached")
	return nil
}

// Detach releases the sink for h. Unknown handles are a no-op.
func (m *Manager) Detach(h domain.TrackHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detachLocked(h)
}

func (m *Manager) detachLocked(h domain.TrackHandle) {
	sink, ok := m.sinks[h]
	if !ok {
		return
	}
	sink.Close()
	delete(m.sinks, h)
	log.Info().Str("module", "media").Str("participant", string(h.Participant)).Str("publication", h.PublicationID).Msg("detached")
}

// Forget drops a producer from the known set as well, so rehydration will
// not resurrect it. Used when the remote side unpublished for good.
func (m *Manager) Forget(h domain.TrackHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detachLocked(h)
	delete(m.known, h)
}

// SetGlobalMute flips the local speaker preference on every attached sink.
// It never touches the underlying producers.
func (m *Manager) SetGlobalMute(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
	for _, sink := range m.sinks {
		sink.SetMuted(muted)
	}
}

// ReattachAll re-derives attachments after a reconnect. live reports whether
// an identity is present in the roster's live view; producers whose owner is
// gone are forgotten instead.
func (m *Manager) ReattachAll(live func(domain.Identity) bool) {
	m.mu.Lock()
	producers := make([]transport.Producer, 0, len(m.known))
	for h, p := range m.known {
		if live != nil && !live(h.Participant) {
			m.detachLocked(h)
			delete(m.known, h)
			continue
		}
		producers = append(producers, p)
	}
	m.mu.Unlock()

	for _, p := range producers {
		if err := m.Attach(p); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("participant", string(p.Handle().Participant)).Msg("reattach failed")
		}
	}
}

// DetachAll tears down every sink and clears the known set. Called on
// session end.
func (m *Manager) DetachAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h := range m.sinks {
		m.detachLocked(h)
	}
	m.known = make(map[domain.TrackHandle]transport.Producer)
}

// AttachedCount is a test and telemetry helper.
func (m *Manager) AttachedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sinks)
}

// Attached reports whether h currently has a sink.
func (m *Manager) Attached(h domain.TrackHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sinks[h]
	return ok
}
