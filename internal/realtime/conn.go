package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Event is the wire envelope for every message in both directions.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Conn is one live client connection. The registry and relay only ever see
// this interface so they stay independent of the websocket transport.
type Conn interface {
	ID() string
	Send(event string, payload any) error
	Alive() bool
	Close() error
}

// Session is a connection plus the identity the transport handshake
// authenticated it as. The handshake identity is authoritative: client
// payloads claiming another user id are ignored.
type Session struct {
	Conn   Conn
	UserID int
}

const (
	writeTimeout = 10 * time.Second
	pingTimeout  = 5 * time.Second

	// A peer must answer a ping within pongWait or its reads fail. Pings go
	// out every PingPeriod, which must be shorter than pongWait.
	pongWait   = 60 * time.Second
	PingPeriod = (pongWait * 9) / 10
)

// WSConn adapts a gorilla websocket connection to Conn. Writes are
// serialized with a mutex because gorilla allows only one concurrent writer.
type WSConn struct {
	id     string
	ws     *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func NewWSConn(id string, ws *websocket.Conn) *WSConn {
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &WSConn{id: id, ws: ws}
}

func (c *WSConn) ID() string {
	return c.id
}

func (c *WSConn) Send(event string, payload any) error {
	if c.closed.Load() {
		return fmt.Errorf("connection %s is closed", c.id)
	}

	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		data = b
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(Event{Name: event, Data: data}); err != nil {
		return fmt.Errorf("failed to write %s to %s: %w", event, c.id, err)
	}
	return nil
}

// Alive probes the peer with a ping control frame. The read loop flips the
// closed flag first, so a cleanly closed connection short-circuits.
func (c *WSConn) Alive() bool {
	if c.closed.Load() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingTimeout))
	return err == nil
}

func (c *WSConn) Close() error {
	c.closed.Store(true)
	return c.ws.Close()
}

// MarkClosed records that the read loop observed EOF, without tearing down
// the underlying socket twice.
func (c *WSConn) MarkClosed() {
	c.closed.Store(true)
}

// ReadEvent blocks until the next client event arrives.
func (c *WSConn) ReadEvent() (Event, error) {
	var evt Event
	if err := c.ws.ReadJSON(&evt); err != nil {
		return Event{}, err
	}
	return evt, nil
}
