package relay

import (
	"sync"

	"github.com/dkeye/Stage/internal/domain"
)

// RoomInfo is a read-only view for the API.
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}

// Hub owns the room set.
type Hub struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[domain.RoomID]*Room)}
}

func (h *Hub) GetOrCreate(id domain.RoomID) *Room {
	h.mu.RLock()
	room, ok := h.rooms[id]
	h.mu.RUnlock()
	if ok {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok = h.rooms[id]; ok {
		return room
	}
	room = NewRoom(id)
	h.rooms[id] = room
	return room
}

// Reap removes a room once it has emptied out.
func (h *Hub) Reap(id domain.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[id]; ok && room.MemberCount() == 0 {
		delete(h.rooms, id)
	}
}

func (h *Hub) List() []RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]RoomInfo, 0, len(h.rooms))
	for id, r := range h.rooms {
		out = append(out, RoomInfo{ID: id, MemberCount: r.MemberCount()})
	}
	return out
}
