package relay

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/wire"
)

// member pairs a peer's meta with its transport endpoint.
type member struct {
	peer wire.Peer
	conn *wsConn
}

// PublishResult reports delivery stats and backpressure to the controller.
type PublishResult struct {
	SentTo  int
	Dropped []domain.Identity
}

// Room is a threadsafe membership set. It never closes adapter-owned
// connections.
type Room struct {
	id domain.RoomID

	mu      sync.RWMutex
	members map[domain.Identity]*member
}

func NewRoom(id domain.RoomID) *Room {
	return &Room{id: id, members: make(map[domain.Identity]*member)}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Room) Add(identity domain.Identity, peer wire.Peer, conn *wsConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[identity] = &member{peer: peer, conn: conn}
	log.Info().Str("module", "relay.room").Str("room", string(r.id)).Str("identity", string(identity)).Msg("member added")
}

func (r *Room) Remove(identity domain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, identity)
	log.Info().Str("module", "relay.room").Str("room", string(r.id)).Str("identity", string(identity)).Msg("member removed")
}

// Peers lists everyone except the given identity.
func (r *Room) Peers(except domain.Identity) []wire.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wire.Peer, 0, len(r.members))
	for id, m := range r.members {
		if id == except {
			continue
		}
		out = append(out, m.peer)
	}
	return out
}

// Broadcast fans an envelope out to every member but the sender.
func (r *Room) Broadcast(from domain.Identity, env wire.Envelope) PublishResult {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "relay.room").Msg("marshal broadcast")
		return PublishResult{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id, m := range r.members {
		if id == from {
			continue
		}
		if err := m.conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, id)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "relay.room").Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// SendTo delivers an envelope to exactly one member.
func (r *Room) SendTo(to domain.Identity, env wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	r.mu.RLock()
	m, ok := r.members[to]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return m.conn.TrySend(data)
}
