package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/goodwinteam/avatarcall/internal/app"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const stateWriteDeadline = 5 * time.Second

// StateHub pushes lifecycle snapshots to websocket subscribers. Slow
// subscribers drop intermediate snapshots instead of blocking publishers.
type StateHub struct {
	mu   sync.Mutex
	subs map[*stateConn]struct{}
}

type stateConn struct {
	conn *websocket.Conn
	send chan app.Snapshot
}

func NewStateHub() *StateHub {
	return &StateHub{subs: make(map[*stateConn]struct{})}
}

// Broadcast fans a snapshot out to every subscriber. Wired as the
// session's OnUpdate callback.
func (h *StateHub) Broadcast(snap app.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sc := range h.subs {
		select {
		case sc.send <- snap:
		default:
			// drop; the next snapshot supersedes this one anyway
		}
	}
}

// HandleState upgrades the request and streams snapshots until the
// client disconnects.
func (h *StateHub) HandleState(ctx context.Context, c *gin.Context, current app.Snapshot) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}

	sc := &stateConn{conn: ws, send: make(chan app.Snapshot, 8)}
	// current state first, so a late subscriber is not left blank; seeded
	// before registration so drop can never close the channel under us
	sc.send <- current

	h.mu.Lock()
	h.subs[sc] = struct{}{}
	h.mu.Unlock()

	go h.readPump(sc)
	h.writePump(ctx, sc)
}

func (h *StateHub) writePump(ctx context.Context, sc *stateConn) {
	defer h.drop(sc)
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sc.send:
			if !ok {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("snapshot marshal")
				continue
			}
			if err := sc.conn.SetWriteDeadline(time.Now().Add(stateWriteDeadline)); err != nil {
				return
			}
			if err := sc.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and detects disconnects.
func (h *StateHub) readPump(sc *stateConn) {
	for {
		if _, _, err := sc.conn.ReadMessage(); err != nil {
			h.drop(sc)
			return
		}
	}
}

// drop unregisters the subscriber and closes its send channel, which in
// turn stops its writePump. Broadcast holds the same mutex, so it can
// never send on the closed channel.
func (h *StateHub) drop(sc *stateConn) {
	h.mu.Lock()
	if _, ok := h.subs[sc]; ok {
		delete(h.subs, sc)
		close(sc.send)
	}
	h.mu.Unlock()
	_ = sc.conn.Close()
}
