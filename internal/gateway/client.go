package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/socials/chat-server/internal/data"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Generous compared to the 4KB content bound so envelopes fit.
	maxFrameSize = 8 * 1024

	sendBuffer = 256
)

// Client is one live, authenticated websocket connection. A user may have
// several clients at once (multi-device).
type Client struct {
	ID   string
	User *data.User

	gw       *Gateway
	conn     *websocket.Conn
	send     chan []byte
	sendMu   sync.Mutex
	closed   bool
	stopOnce sync.Once
}

func newClient(gw *Gateway, conn *websocket.Conn, user *data.User) *Client {
	return &Client{
		ID:   uuid.NewString(),
		User: user,
		gw:   gw,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

// enqueue hands a payload to the write pump without blocking. A connection
// whose buffer is full is considered dead and torn down; the read pump
// error path then runs the normal disconnect cleanup. Broadcast paths
// snapshot their recipients before delivering, so a frame may arrive here
// after disconnect already closed the channel; those are dropped.
func (c *Client) enqueue(payload []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

// closeSend closes the send channel exactly once and marks the client so
// late enqueues become no-ops instead of sends on a closed channel.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	c.closed = true
	close(c.send)
	c.sendMu.Unlock()
}

// readPump consumes inbound frames and dispatches them. It exits on any
// read error, which covers both voluntary close and network failure; the
// deferred disconnect updates presence in the same tick.
func (c *Client) readPump() {
	defer c.gw.disconnect(c)

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.gw.dispatch(c, raw)
	}
}

// writePump serializes writes to the connection and keeps it alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
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
