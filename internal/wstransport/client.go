// Package wstransport is the WebSocket transport (spec §6.1): it upgrades
// GET /api/ws, implements hub.Session over a gorilla/websocket connection,
// and dispatches inbound client commands (join/leave, start/stop/override
// NFC link, sync:request, client_ping) to the Hub Manager, NFC Machine, and
// Sync Controller. It is grounded on the teacher's internal/websocket
// package (client.go's readPump/writePump/ping-pong/deterministic-ID
// idiom, hub.go's registration), adapted from the teacher's broadcast-only
// Hub to this daemon's room-scoped, command-dispatching one.
package wstransport

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/events"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/hub"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

// clientIDCounter assigns deterministic, monotonically increasing session
// IDs, mirroring the teacher's atomic.Uint64 client ID counter
// (internal/websocket/client.go) used there for stable broadcast ordering.
var clientIDCounter atomic.Uint64

// Client is a gorilla/websocket connection adapted to satisfy hub.Session.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan *events.Envelope
	mgr  *hub.Manager
	d    *Dispatcher
}

// NewClient wraps conn with a deterministic session ID and bounded send
// queue, grounded on the teacher's NewClient (internal/websocket/client.go).
func NewClient(conn *websocket.Conn, mgr *hub.Manager, d *Dispatcher) *Client {
	id := clientIDCounter.Add(1)
	return &Client{
		id:   formatClientID(id),
		conn: conn,
		send: make(chan *events.Envelope, sendBuffer),
		mgr:  mgr,
		d:    d,
	}
}

func formatClientID(n uint64) string {
	const base = "ws-"
	return base + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// ID satisfies hub.Session.
func (c *Client) ID() string { return c.id }

// Send satisfies hub.Session: non-blocking enqueue, dropping the envelope
// (and logging) on back-pressure exactly like the teacher's Client.send
// channel does via its buffered, select-default enqueue.
func (c *Client) Send(env *events.Envelope) bool {
	select {
	case c.send <- env:
		return true
	default:
		logging.Named("wstransport").Warn().Str("session_id", c.id).Str("event_type", env.EventType).
			Msg("dropping envelope: client send buffer full")
		return false
	}
}

// Start begins the read and write pumps and blocks until the connection
// closes, mirroring the teacher's Client.Start (internal/websocket/client.go).
func (c *Client) Start() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.mgr.Unregister(c.id)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Named("wstransport").Warn().Err(err).Str("session_id", c.id).Msg("unexpected close")
			}
			return
		}
		c.d.Dispatch(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := env.Marshal()
			if err != nil {
				logging.Named("wstransport").Error().Err(err).Msg("failed to marshal envelope")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
