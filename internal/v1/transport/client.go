// Package transport is the push adapter: it owns the WebSocket upgrade, the
// per-connection read/write pumps, and the translation between push frames
// and relay operations. One Client may hold memberships in many rooms over a
// single connection.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/driftwire/relay/internal/v1/logging"
	"github.com/driftwire/relay/internal/v1/metrics"
	"github.com/driftwire/relay/internal/v1/protocol"
	"github.com/driftwire/relay/internal/v1/relay"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 40 * time.Second

	sendBuffer = 256
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

// Client is one push connection. It implements relay.PushPeer: Deliver never
// blocks (buffered channel, drop on overflow) so a slow socket cannot stall a
// room's fan-out.
type Client struct {
	conn      wsConnection
	relay     *relay.Relay
	clientKey string

	mu     sync.Mutex
	rooms  map[string]string // room hash -> peer id on this connection
	closed bool

	send      chan []byte
	closing   chan string
	closeOnce sync.Once
}

func newClient(conn wsConnection, r *relay.Relay, clientKey string) *Client {
	return &Client{
		conn:      conn,
		relay:     r,
		clientKey: clientKey,
		rooms:     make(map[string]string),
		send:      make(chan []byte, sendBuffer),
		closing:   make(chan string, 1),
	}
}

// Deliver satisfies relay.PushPeer. Called under a room lock, so it must not
// block: a full buffer drops the frame.
func (c *Client) Deliver(frame []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	select {
	case c.send <- frame:
	default:
		logging.Warn(context.Background(), "push buffer full, dropping frame",
			zap.String("client_key", c.clientKey))
	}
}

// Detach satisfies relay.PushPeer: the room is gone (deleted or expired)
// but the connection stays; only the membership record is dropped.
func (c *Client) Detach(roomHash string) {
	c.untrackRoom(roomHash)
}

// CloseWithReason satisfies relay.PushPeer: the writePump drains buffered
// frames, sends a close frame carrying reason, and tears the connection down.
func (c *Client) CloseWithReason(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.closing <- reason
	})
}

// peerFor returns this connection's peer id in a room, or "".
func (c *Client) peerFor(hash string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[hash]
}

func (c *Client) trackRoom(hash, peerID string) {
	c.mu.Lock()
	c.rooms[hash] = peerID
	c.mu.Unlock()
}

func (c *Client) untrackRoom(hash string) {
	c.mu.Lock()
	delete(c.rooms, hash)
	c.mu.Unlock()
}

// readPump processes inbound frames until the connection drops. On exit it
// leaves every room this connection joined, which fans peer_left (or destroys
// rooms that empty out) exactly as an explicit leave would.
func (c *Client) readPump() {
	defer func() {
		c.disconnect()
		c.CloseWithReason("going away")
		c.conn.Close()
		metrics.DecConnection()
	}()

	// Twice the frame cap: frames in (cap, 2*cap] get a protocol-level
	// rejection below; anything larger is hostile and drops the connection.
	c.conn.SetReadLimit(2 * protocol.MaxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		// The size check precedes the rate limiter: an oversized frame
		// advances no counter and costs only the error reply.
		if len(data) > protocol.MaxFrameBytes {
			c.Deliver(protocol.ErrorEvent(protocol.CodeInvalidFormat, "frame too large", "").Encode())
			continue
		}

		c.dispatch(data)
	}
}

// disconnect removes this connection's memberships from the relay.
func (c *Client) disconnect() {
	c.mu.Lock()
	c.closed = true
	rooms := make(map[string]string, len(c.rooms))
	for hash, peerID := range c.rooms {
		rooms[hash] = peerID
	}
	c.rooms = make(map[string]string)
	c.mu.Unlock()

	for hash, peerID := range rooms {
		if _, err := c.relay.LeavePush(hash, peerID); err != nil {
			// Already gone: the room was destroyed before the socket dropped.
			continue
		}
	}
}

// writePump owns all writes to the socket: queued frames, heartbeat pings,
// and the final close frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case reason := <-c.closing:
			c.drainSend()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainSend flushes frames queued before a close so a room_deleted or
// room_expired event is not lost to the race with the close frame.
func (c *Client) drainSend() {
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
