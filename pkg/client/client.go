// Package client is a small Go client for the cowatch relay. The smoke test
// command and the integration tests speak the protocol through it.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomaslejdung/cowatch/pkg/relay"
)

// ErrClosed is returned once the connection has gone away.
var ErrClosed = errors.New("client: connection closed")

// Client wraps one /ws connection
type Client struct {
	conn         *websocket.Conn
	connMu       sync.Mutex
	msgChan      chan []byte
	done         chan struct{}
	onDisconnect func()
	closed       bool
	closeMu      sync.Mutex
}

// Dial connects to a relay endpoint such as ws://127.0.0.1:5757/ws
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return New(conn), nil
}

// New wraps an established connection and starts reading from it
func New(conn *websocket.Conn) *Client {
	c := &Client{
		conn:    conn,
		msgChan: make(chan []byte, 100),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer func() {
		close(c.msgChan)
		c.closeMu.Lock()
		if c.onDisconnect != nil && !c.closed {
			c.onDisconnect()
		}
		c.closeMu.Unlock()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case c.msgChan <- data:
		case <-c.done:
			return
		}
	}
}

// Send writes v as one JSON text frame
func (c *Client) Send(v any) error {
	c.closeMu.Lock()
	closed := c.closed
	c.closeMu.Unlock()
	if closed {
		return ErrClosed
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn.WriteJSON(v)
}

// SendRaw writes data unchanged as one text frame
func (c *Client) SendRaw(data []byte) error {
	c.closeMu.Lock()
	closed := c.closed
	c.closeMu.Unlock()
	if closed {
		return ErrClosed
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Create asks the relay to create (or re-enter) roomID
func (c *Client) Create(roomID, pin, name string) error {
	return c.Send(relay.Envelope{Type: relay.TypeCreate, RoomID: roomID, Pin: pin, Name: name})
}

// Join asks the relay to admit this connection to roomID
func (c *Client) Join(roomID, pin, name string) error {
	return c.Send(relay.Envelope{Type: relay.TypeJoin, RoomID: roomID, Pin: pin, Name: name})
}

// Messages returns channel of incoming raw messages
func (c *Client) Messages() <-chan []byte {
	return c.msgChan
}

// Next waits for the next message and decodes its envelope fields
func (c *Client) Next(ctx context.Context) (relay.Envelope, []byte, error) {
	select {
	case data, ok := <-c.msgChan:
		if !ok {
			return relay.Envelope{}, nil, ErrClosed
		}
		var env relay.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return relay.Envelope{}, data, fmt.Errorf("decode %q: %w", data, err)
		}
		return env, data, nil
	case <-ctx.Done():
		return relay.Envelope{}, nil, ctx.Err()
	}
}

// Expect waits for the next message and fails unless its type is typ
func (c *Client) Expect(ctx context.Context, typ string) (relay.Envelope, error) {
	env, _, err := c.Next(ctx)
	if err != nil {
		return env, err
	}
	if env.Type != typ {
		if env.Type == relay.TypeError {
			return env, fmt.Errorf("expected %s, got error %q", typ, env.Error)
		}
		return env, fmt.Errorf("expected %s, got %s", typ, env.Type)
	}
	return env, nil
}

// SetDisconnectHandler sets callback for when connection is lost
func (c *Client) SetDisconnectHandler(handler func()) {
	c.closeMu.Lock()
	c.onDisconnect = handler
	c.closeMu.Unlock()
}

// Close shuts down the connection
func (c *Client) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		c.conn.Close()
	}
}
