// Package wstransport adapts statusbus.Observer onto a gorilla/websocket
// connection — the transport the teacher depends on (github.com/gorilla/
// websocket in its go.mod) even though nothing in its own tree uses it for
// this kind of push protocol.
package wstransport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"execengine/internal/app/execution/statusbus"
)

// Conn adapts a single *websocket.Conn to statusbus.Observer. Writes are
// serialized with a mutex since gorilla/websocket connections are not safe
// for concurrent writers.
type Conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

// New wraps ws as a statusbus.Observer.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send marshals message as JSON and writes it as one text frame. Any error
// is treated as a delivery failure (returns false) rather than propagated,
// matching statusbus.Observer's contract.
func (c *Conn) Send(message any) bool {
	data, err := json.Marshal(message)
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data) == nil
}

// Close closes the underlying connection with a normal-closure frame. The
// 4001 code matches the original's own "replaced by new connection" close,
// reused here since this adapter is closed for exactly that reason by
// statusbus.Bus.Register.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(4001, "replaced by new connection"),
		deadline,
	)
	_ = c.ws.Close()
}

var _ statusbus.Observer = (*Conn)(nil)
