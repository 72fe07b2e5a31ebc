package relay

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Exceeding it closes the connection, so it
	// sits far above anything a browser client sends.
	maxMessageSize = 100 << 20
)

// readPump reads messages from the WebSocket and routes them one at a time,
// which keeps each sender's relays in send order.
func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.server.logger.Warn("relay.ws.read", "client", c.ID, "err", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump sends queued messages and keepalive pings to the WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.server.logger.Debug("relay.ws.write", "client", c.ID, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// handleMessage is the per-connection protocol state machine.
// Before create/join succeeds only those two types are accepted; afterwards
// every frame, whatever its type, is relayed verbatim to the other members.
func (c *Client) handleMessage(data []byte) {
	in, err := Decode(data)
	if err != nil {
		c.server.metrics.malformedFrame()
		c.server.logger.Debug("relay.message.malformed", "client", c.ID, "bytes", len(data))
		return
	}

	if c.roomID != "" {
		c.server.registry.Broadcast(c.roomID, c, in.Raw, false)
		return
	}

	switch in.Kind {
	case KindCreate, KindJoin:
		_, err = c.server.registry.Admit(c, in.Kind, in.Control)
	default:
		err = errNotInRoom
	}
	if err != nil {
		c.reject(err)
	}
}

// reject reports err to this client only. The connection stays open.
func (c *Client) reject(err error) {
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		c.server.logger.Error("relay.message.failed", "client", c.ID, "err", err)
		return
	}
	c.server.metrics.protocolError(err)
	c.server.logger.Info("relay.message.rejected", "client", c.ID, "err", perr.Text)
	c.enqueue(encode(Envelope{Type: TypeError, Error: perr.Text}))
}
