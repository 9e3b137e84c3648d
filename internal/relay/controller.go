package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	broadcastLimit  = 30
	broadcastWindow = 10 * time.Second

	defaultReadLimit  = 32768
	defaultPingPeriod = 54 * time.Second
)

// Controller upgrades authenticated requests and relays envelopes between
// room members. A member that keeps dropping broadcasts is kicked; one that
// floods the room gets its broadcasts dropped.
type Controller struct {
	Hub        *Hub
	limiter    *RateLimiter
	readLimit  int64
	pingPeriod time.Duration
}

func NewController(hub *Hub, readLimit int64, pingPeriod time.Duration) *Controller {
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	return &Controller{
		Hub:        hub,
		limiter:    NewRateLimiter(broadcastLimit, broadcastWindow, nil),
		readLimit:  readLimit,
		pingPeriod: pingPeriod,
	}
}

// HandleSignal expects the token middleware to have stored identity, room,
// role and display name on the gin context.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	identity := domain.Identity(c.GetString("identity"))
	roomID := domain.RoomID(c.GetString("room"))
	peer := wire.Peer{
		Identity: string(identity),
		Name:     c.GetString("name"),
		Role:     c.GetString("role"),
	}
	log.Info().Str("module", "relay").Str("room", string(roomID)).Str("identity", string(identity)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}

	ws.SetReadLimit(ctl.readLimit)

	conn := newWSConn(ws)
	room := ctl.Hub.GetOrCreate(roomID)

	// Welcome carries the current peer list so a late joiner starts with a
	// complete view.
	welcome, _ := json.Marshal(wire.Envelope{
		Type:  wire.TypeWelcome,
		Peer:  &peer,
		Peers: room.Peers(identity),
	})
	if err := conn.TrySend(welcome); err != nil {
		conn.Close()
		return
	}

	room.Add(identity, peer, conn)
	room.Broadcast(identity, wire.Envelope{Type: wire.TypePeerJoin, Peer: &peer})

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, identity, room, conn)
		ctl.limiter.Forget(identity)
		room.Remove(identity)
		room.Broadcast(identity, wire.Envelope{Type: wire.TypePeerLeft, Peer: &peer})
		ctl.Hub.Reap(roomID)
	}()
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "relay").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Debug().Err(err).Str("module", "relay").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, identity domain.Identity, room *Room, c *wsConn) {
	defer func() {
		log.Info().Str("module", "relay").Str("identity", string(identity)).Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "relay").Str("identity", string(identity)).Msg("readPump read error")
				return
			}
			ctl.handleEnvelope(identity, room, c, data)
		}
	}
}

func (ctl *Controller) handleEnvelope(from domain.Identity, room *Room, c *wsConn, data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("from", string(from)).Msg("bad envelope")
		return
	}
	env.From = string(from)

	switch env.Type {
	case wire.TypeData, wire.TypePublish, wire.TypeUnpublish, wire.TypeMute:
		if !ctl.limiter.Allow(from) {
			log.Warn().Str("module", "relay").Str("from", string(from)).Msg("broadcast rate limited")
			return
		}
		res := room.Broadcast(from, env)
		for _, slow := range res.Dropped {
			// Sustained backpressure: kick rather than stall the room.
			log.Warn().Str("module", "relay").Str("identity", string(slow)).Msg("kicking slow member")
			room.Remove(slow)
		}

	case wire.TypeOffer, wire.TypeAnswer, wire.TypeCandidate:
		if env.To == "" {
			log.Warn().Str("module", "relay").Str("type", env.Type).Msg("addressed envelope without target")
			return
		}
		if err := room.SendTo(domain.Identity(env.To), env); err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("to", env.To).Msg("forward failed")
		}

	case wire.TypePing:
		pong, _ := json.Marshal(wire.Envelope{Type: wire.TypePong})
		_ = c.TrySend(pong)

	default:
		log.Warn().Str("module", "relay").Str("type", env.Type).Msg("unknown envelope")
	}
}
