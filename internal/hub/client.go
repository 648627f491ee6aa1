package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sourcebazaar/realtime/internal/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// Buffered so one slow reader never blocks a broadcast.
	sendBuffer = 256
)

// Client is one authenticated live connection. The identity is bound at
// handshake time and never changes for the connection's lifetime.
type Client struct {
	ID       string
	Identity auth.Identity
	Conn     *websocket.Conn
	Send     chan []byte

	closeOnce sync.Once
}

// NewClient allocates a client for an upgraded connection. A nil Conn is
// allowed for in-process use; only the pumps touch the socket.
func NewClient(conn *websocket.Conn, identity auth.Identity) *Client {
	return &Client{
		ID:       uuid.New().String(),
		Identity: identity,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// WritePump pumps queued payloads to the websocket connection and keeps it
// alive with periodic pings. Run in its own goroutine; it exits when the
// Send channel is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump reads frames from the connection, handing each payload to handle.
// done is invoked exactly once when the connection drops, however it drops.
func (c *Client) ReadPump(handle func(raw []byte), done func()) {
	defer done()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("websocket read error", "client", c.ID, "error", err)
			}
			return
		}
		handle(raw)
	}
}
