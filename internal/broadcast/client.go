package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer absorbs short bursts per client. A client that stays this
	// far behind is evicted by the hub.
	sendBuffer = 64
)

// Client is one websocket subscriber of one instrument.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	instrumentID string
	remoteAddr   string

	send     chan []byte
	stopOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, instrumentID string) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		instrumentID: instrumentID,
		remoteAddr:   conn.RemoteAddr().String(),
		send:         make(chan []byte, sendBuffer),
	}
}

// shutdown closes the send queue, which makes writePump send a close frame
// and tear the connection down.
func (c *Client) shutdown() {
	c.stopOnce.Do(func() { close(c.send) })
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with pings. One writer goroutine per connection; nobody else writes.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes (and discards) inbound frames so pongs are processed
// and a close from the peer is noticed promptly.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
