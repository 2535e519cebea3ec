package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errBackpressure = errors.New("backpressure")

const writeDeadline = 5 * time.Second

// envelope is the common shape of every signaling message.
type envelope struct {
	Type string `json:"type"`

	// join / joined
	Token          string   `json:"token,omitempty"`
	AdaptiveStream bool     `json:"adaptive_stream,omitempty"`
	Dynacast       bool     `json:"dynacast,omitempty"`
	Identity       string   `json:"identity,omitempty"`
	Participants   []string `json:"participants,omitempty"`

	// offer / answer
	SDP string `json:"sdp,omitempty"`

	// candidate
	Candidate     string `json:"candidate,omitempty"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`

	// mute
	Muted bool `json:"muted,omitempty"`

	// track_removed
	TrackID string `json:"track_id,omitempty"`

	// speakers
	Identities []string `json:"identities,omitempty"`
}

// wsConn is the signaling connection with a buffered send queue, so slow
// writes never block event handling.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan []byte, 32),
	}
}

func (c *wsConn) trySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return errBackpressure
	}
	return nil
}

func (c *wsConn) sendJSON(v envelope) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.trySend(b)
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *wsConn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "rtc.signaling").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "rtc.signaling").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "rtc.signaling").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "rtc.signaling").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump delivers inbound envelopes to handle until the connection
// drops, then invokes onClosed.
func (c *wsConn) readPump(ctx context.Context, handle func(envelope), onClosed func()) {
	defer func() {
		log.Debug().Str("module", "rtc.signaling").Msg("readPump closing")
		c.close()
		onClosed()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "rtc.signaling").Msg("readPump read error")
				return
			}
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				log.Warn().Err(err).Str("module", "rtc.signaling").Msg("bad json")
				continue
			}
			handle(env)
		}
	}
}
