package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/kapu/chess-arena/internal/hub"
)

// client is one websocket connection's session state. identity and room are
// set by join-room/reconnect-to-room and read only from the read loop, so
// they need no locking; the conn is guarded for the writer/closer race.
type client struct {
	id   string
	conn *websocket.Conn
	ob   *hub.Outbox

	identity    string
	displayName string
	room        string

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		ob:   hub.NewOutbox(),
	}
}

// writeLoop drains the outbox onto the socket. It exits when the outbox is
// closed (hub eviction or disconnect) and drops the connection with it, so a
// dead writer also ends the read loop.
func (c *client) writeLoop() {
	for raw := range c.ob.Out() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, raw)
		cancel()
		if err != nil {
			break
		}
	}
	c.closeConn(websocket.StatusGoingAway, "outbox closed")
}

func (c *client) closeConn(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close(code, reason)
		}
	})
}
