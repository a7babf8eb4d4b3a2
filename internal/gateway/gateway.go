// Package gateway is the real-time terminal layer: it bridges websocket
// clients to the session's interactive sandbox stream, fanning one stream
// out to every attached client.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gamgui/internal/gamerr"
	"gamgui/internal/session"
	"gamgui/internal/telemetry"
)

// Gateway manages one hub per session with at least one attached client.
type Gateway struct {
	sessions *session.Service
	log      *slog.Logger
	metrics  *telemetry.Metrics
	ringSize int

	upgrader websocket.Upgrader

	mu   sync.Mutex
	hubs map[string]*hub
}

func New(sessions *session.Service, logger *slog.Logger, metrics *telemetry.Metrics, ringSize int) *Gateway {
	return &Gateway{
		sessions: sessions,
		log:      logger.With("component", "gateway"),
		metrics:  metrics,
		ringSize: ringSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The API's bearer-token check runs before the upgrade; browser
			// origin policy is the deployment proxy's concern.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		hubs: make(map[string]*hub),
	}
}

func (g *Gateway) hub(sessionID string) *hub {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.hubs[sessionID]
	if !ok {
		h = newHub(g, sessionID)
		g.hubs[sessionID] = h
	}
	return h
}

// hubIdle is called by a hub when its last client detaches. The hub and its
// backlog stay around so a reattach replays recent output; only the stream
// keeps running unattended.
func (g *Gateway) hubIdle(sessionID string) {
	g.log.Debug("All clients detached", "session", sessionID)
}

// CloseSession tears down the hub for a deleted session.
func (g *Gateway) CloseSession(sessionID string) {
	g.mu.Lock()
	h, ok := g.hubs[sessionID]
	delete(g.hubs, sessionID)
	g.mu.Unlock()
	if ok {
		h.close()
	}
}

// ServeSession upgrades the request and attaches the caller to the
// session's terminal. Ownership is checked before the upgrade so a denied
// caller gets a plain HTTP error, not a websocket close.
func (g *Gateway) ServeSession(w http.ResponseWriter, r *http.Request, ownerID, sessionID string) {
	ctx := r.Context()
	sess, err := g.sessions.Get(ctx, ownerID, sessionID)
	if err != nil {
		status := http.StatusNotFound
		if !gamerr.Is(err, gamerr.KindSessionNotFound) && !gamerr.Is(err, gamerr.KindAccessDenied) {
			status = http.StatusInternalServerError
		}
		http.Error(w, "session not found", status)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("Websocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn, ownerID)
	if g.metrics != nil {
		g.metrics.GatewayConnections.Inc()
	}
	go c.writePump()

	h := g.hub(sessionID)
	c.enqueue(Frame{Type: frameJoined, SessionID: sessionID})
	if err := h.attach(context.WithoutCancel(ctx), c, sess); err != nil {
		c.closeWith("could not attach to session")
	}

	g.readLoop(c, h)

	h.detach(c)
	c.closeWith("connection closed")
	if g.metrics != nil {
		g.metrics.GatewayConnections.Dec()
	}
}

// readLoop handles inbound frames until the connection drops.
func (g *Gateway) readLoop(c *client, h *hub) {
	c.conn.SetReadLimit(maxInputFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(payload, &f); err != nil {
			c.sendError("malformed frame")
			continue
		}
		switch f.Type {
		case frameInput:
			h.input(context.Background(), c, []byte(f.Data))
		case frameResize:
			if f.Cols > 0 && f.Rows > 0 {
				h.resize(c, f.Cols, f.Rows)
			}
		default:
			c.sendError("unknown frame type " + f.Type)
		}
	}
}
