// Package roster derives a stable participant list from live transport
// membership. Departed identities are ghosted for a bounded grace window so a
// brief parallel reconnect never flickers through the list.
package roster

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/transport"
)

const DefaultGraceWindow = 8 * time.Second

type entry struct {
	p     transport.Participant
	muted bool
}

type graced struct {
	entry
	timer *clock.Timer
}

// Builder owns the roster set. It is mutated only from transport events; the
// session controller reads snapshots and never writes.
type Builder struct {
	clk         clock.Clock
	graceWindow time.Duration

	mu    sync.Mutex
	local *entry
	live  map[domain.Identity]*entry
	grace map[domain.Identity]*graced

	// onRemoved fires once a departed identity's grace window expires,
	// i.e. on the logical leave event.
	onRemoved func(transport.Participant)
}

func NewBuilder(clk clock.Clock, graceWindow time.Duration) *Builder {
	if graceWindow <= 0 {
		graceWindow = DefaultGraceWindow
	}
	return &Builder{
		clk:         clk,
		graceWindow: graceWindow,
		live:        make(map[domain.Identity]*entry),
		grace:       make(map[domain.Identity]*graced),
	}
}

// OnRemoved registers the logical-leave hook. Must be set before events flow.
func (b *Builder) OnRemoved(fn func(transport.Participant)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRemoved = fn
}

// SetLocal records the local participant; it always sorts first and never
// enters grace.
func (b *Builder) SetLocal(p transport.Participant) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.local = &entry{p: p}
}

// Join adds or restores an identity. Returns true when this is a logical
// join (the identity was neither live nor ghosted), so callers can emit a
// join notice exactly once.
func (b *Builder) Join(p transport.Participant) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if g, ok := b.grace[p.Identity]; ok {
		g.timer.Stop()
		delete(b.grace, p.Identity)
		restored := g.entry
		restored.p = p
		b.live[p.Identity] = &restored
		log.Debug().Str("module", "roster").Str("identity", string(p.Identity)).Msg("restored from grace")
		return false
	}
	if _, ok := b.live[p.Identity]; ok {
		b.live[p.Identity].p = p
		return false
	}
	b.live[p.Identity] = &entry{p: p}
	log.Info().Str("module", "roster").Str("identity", string(p.Identity)).Msg("joined")
	return true
}

// Leave moves an identity into grace and arms its removal timer. Unknown or
// already-ghosted identities are a no-op.
func (b *Builder) Leave(identity domain.Identity) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.live[identity]
	if !ok {
		return
	}
	delete(b.live, identity)

	g := &graced{entry: *e}
	g.timer = b.clk.AfterFunc(b.graceWindow, func() {
		b.expire(identity)
	})
	b.grace[identity] = g
	log.Info().Str("module", "roster").Str("identity", string(identity)).Msg("entered grace")
}

func (b *Builder) expire(identity domain.Identity) {
	b.mu.Lock()
	g, ok := b.grace[identity]
	if ok {
		delete(b.grace, identity)
	}
	fn := b.onRemoved
	b.mu.Unlock()

	if !ok {
		return
	}
	log.Info().Str("module", "roster").Str("identity", string(identity)).Msg("grace expired, removed")
	if fn != nil {
		fn(g.p)
	}
}

// SetMuted records a participant's mute flag from track-muted events.
func (b *Builder) SetMuted(identity domain.Identity, muted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.local != nil && b.local.p.Identity == identity {
		b.local.muted = muted
		return
	}
	if e, ok := b.live[identity]; ok {
		e.muted = muted
	}
}

// Live reports whether identity is in live membership (local included).
func (b *Builder) Live(identity domain.Identity) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.local != nil && b.local.p.Identity == identity {
		return true
	}
	_, ok := b.live[identity]
	return ok
}

// Reset drops everything and cancels all grace timers. Called on session
// teardown.
func (b *Builder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, g := range b.grace {
		g.timer.Stop()
	}
	b.local = nil
	b.live = make(map[domain.Identity]*entry)
	b.grace = make(map[domain.Identity]*graced)
}

// Snapshot rebuilds the derived list: local first, then presenters, then by
// display name. The sort is stable and re-applied on every call.
func (b *Builder) Snapshot() []domain.RosterEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.RosterEntry, 0, 1+len(b.live)+len(b.grace))
	if b.local != nil {
		out = append(out, toEntry(*b.local, domain.MemberLive, true))
	}
	for _, e := range b.live {
		out = append(out, toEntry(*e, domain.MemberLive, false))
	}
	for _, g := range b.grace {
		out = append(out, toEntry(g.entry, domain.MemberGrace, false))
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if a.IsLocal != c.IsLocal {
			return a.IsLocal
		}
		aPresenter := a.Role == domain.RolePresenter
		cPresenter := c.Role == domain.RolePresenter
		if aPresenter != cPresenter {
			return aPresenter
		}
		if a.DisplayName != c.DisplayName {
			return a.DisplayName < c.DisplayName
		}
		return a.Identity < c.Identity
	})
	return out
}

func toEntry(e entry, m domain.Membership, local bool) domain.RosterEntry {
	return domain.RosterEntry{
		Identity:    e.p.Identity,
		DisplayName: e.p.DisplayName,
		Role:        e.p.Role,
		Membership:  m,
		IsLocal:     local,
		IsMuted:     e.muted,
	}
}
