package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is the websocket wire format, both directions.
//
// Client to server: input, resize. Server to client: joined, output,
// error, disconnect.
type Frame struct {
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"`
	Cols      uint16 `json:"cols,omitempty"`
	Rows      uint16 `json:"rows,omitempty"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

const (
	frameJoined     = "joined"
	frameInput      = "input"
	frameOutput     = "output"
	frameResize     = "resize"
	frameError      = "error"
	frameDisconnect = "disconnect"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendBuf  = 64
	maxInputFrame  = 32 * 1024
)

// client is one attached websocket connection.
//
// send is never closed; closeWith signals done instead, so the hub can keep
// broadcasting to a dropped client without panicking while the read loop
// catches up and detaches it.
type client struct {
	conn    *websocket.Conn
	ownerID string
	send    chan Frame
	done    chan struct{}
	reason  string

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, ownerID string) *client {
	return &client{
		conn:    conn,
		ownerID: ownerID,
		send:    make(chan Frame, clientSendBuf),
		done:    make(chan struct{}),
	}
}

func (c *client) sendOutput(data []byte) {
	c.enqueue(Frame{Type: frameOutput, Data: string(data)})
}

func (c *client) sendError(msg string) {
	c.enqueue(Frame{Type: frameError, Message: msg})
}

// enqueue drops the connection rather than block the hub on a stalled
// client. Enqueueing to an already-dropped client is a no-op.
func (c *client) enqueue(f Frame) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- f:
	default:
		c.closeWith("client too slow")
	}
}

func (c *client) closeWith(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

// writePump serializes all writes to the connection. It owns the teardown:
// on done it emits the disconnect frame and closes the socket, which in turn
// unblocks the read loop and detaches the client from its hub.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if payload, err := json.Marshal(Frame{Type: frameDisconnect, Message: c.reason}); err == nil {
				_ = c.conn.WriteMessage(websocket.TextMessage, payload)
			}
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			payload, err := json.Marshal(f)
			if err != nil {
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
