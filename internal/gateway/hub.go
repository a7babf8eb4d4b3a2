package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gamgui/internal/backend"
	"gamgui/internal/session"
)

// hub owns one session's terminal: a single backend stream fanned out to
// every attached client, plus the backlog ring for late joiners.
//
// The stream is opened lazily on the first attach and reopened on the next
// input after it fails; a failed stream never tears the session down.
type hub struct {
	sessionID string
	g         *Gateway
	log       *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	focus   *client
	stream  *backend.Stream
	ring    *ring
	closed  bool
}

func newHub(g *Gateway, sessionID string) *hub {
	return &hub{
		sessionID: sessionID,
		g:         g,
		log:       g.log.With("session", sessionID),
		clients:   make(map[*client]struct{}),
		ring:      newRing(g.ringSize),
	}
}

// attach registers a client, replays the backlog, and makes sure a backend
// stream is running. Registration and replay share one critical section so
// a chunk broadcast concurrently with the attach cannot land between two
// backlog chunks; enqueue never blocks, so holding the lock is safe.
func (h *hub) attach(ctx context.Context, c *client, sess *session.Session) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("session hub is closed")
	}
	h.clients[c] = struct{}{}
	for _, chunk := range h.ring.Snapshot() {
		c.sendOutput(chunk)
	}
	h.mu.Unlock()

	return h.ensureStream(ctx, sess)
}

func (h *hub) detach(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	if h.focus == c {
		h.focus = nil
	}
	empty := len(h.clients) == 0
	h.mu.Unlock()
	if empty {
		h.g.hubIdle(h.sessionID)
	}
}

// ensureStream opens the backend stream when none is live. When the sandbox
// cannot provide one, the built-in line interpreter takes over so the
// terminal stays responsive.
func (h *hub) ensureStream(ctx context.Context, sess *session.Session) error {
	h.mu.Lock()
	if h.stream != nil {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	var s *backend.Stream
	var err error
	if sess.Handle.IsZero() {
		s = newLocalInterpreter()
	} else {
		s, err = h.g.sessions.Backend().ExecInteractiveShell(ctx, sess.Handle)
		if err != nil {
			h.log.Warn("Interactive shell unavailable; using local interpreter", "error", err)
			s = newLocalInterpreter()
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.Close()
		return nil
	}
	if h.stream != nil {
		// lost a race with another attach; keep the winner
		h.mu.Unlock()
		s.Close()
		return nil
	}
	h.stream = s
	h.mu.Unlock()

	go h.pump(s)
	return nil
}

// pump fans stream output out to every client. A panic here must not take
// down any other session's terminal, so it is contained and logged.
func (h *hub) pump(s *backend.Stream) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Terminal pump panicked", "panic", r)
			h.streamEnded(s, fmt.Errorf("terminal pump panicked: %v", r))
		}
	}()

	for chunk := range s.Output() {
		h.ring.Append(chunk.Data)
		if h.g.metrics != nil {
			h.g.metrics.StreamBytesOut.Add(float64(len(chunk.Data)))
		}
		h.broadcastOutput(chunk.Data)
	}
	h.streamEnded(s, s.Err())
}

func (h *hub) streamEnded(s *backend.Stream, err error) {
	h.mu.Lock()
	if h.stream == s {
		h.stream = nil
	}
	h.mu.Unlock()

	if err != nil {
		h.log.Warn("Backend stream ended", "error", err)
		h.broadcastError("terminal stream lost; press enter to reattach")
		return
	}
	h.broadcastError("terminal stream closed")
}

func (h *hub) broadcastOutput(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.sendOutput(data)
	}
}

func (h *hub) broadcastError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.sendError(msg)
	}
}

// input forwards client keystrokes to the sandbox, reopening the stream
// first when the previous one died. The writer becomes the focus client;
// resize events from anyone else are ignored until focus moves.
func (h *hub) input(ctx context.Context, c *client, data []byte) {
	sess, err := h.g.sessions.Get(ctx, c.ownerID, h.sessionID)
	if err != nil {
		c.sendError("session is gone")
		return
	}
	if err := h.ensureStream(ctx, sess); err != nil {
		c.sendError("could not reach the sandbox terminal")
		return
	}

	h.mu.Lock()
	h.focus = c
	s := h.stream
	h.mu.Unlock()
	if s == nil {
		return
	}
	if _, err := s.Write(data); err != nil {
		h.log.Warn("Stdin write failed", "error", err)
	}
	h.g.sessions.Touch(ctx, h.sessionID)
}

// resize applies terminal geometry, but only from the focus client so two
// operators with different window sizes do not fight over the PTY.
func (h *hub) resize(c *client, cols, rows uint16) {
	h.mu.Lock()
	s := h.stream
	focused := h.focus == nil || h.focus == c
	h.mu.Unlock()
	if s == nil || !focused {
		return
	}
	if err := s.Resize(cols, rows); err != nil {
		h.log.Debug("Resize failed", "error", err)
	}
}

// close tears the hub down, closing the stream and every client.
func (h *hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	s := h.stream
	h.stream = nil
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	if s != nil {
		s.Close()
	}
	for _, c := range clients {
		c.closeWith("session ended")
	}
}
