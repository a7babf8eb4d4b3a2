// Package api is the HTTP surface: session CRUD, command execution, file
// transfer, credential management, and the websocket terminal endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"gamgui/internal/command"
	"gamgui/internal/config"
	"gamgui/internal/gateway"
	"gamgui/internal/secrets"
	"gamgui/internal/session"
	"gamgui/internal/telemetry"
)

// Server wires the HTTP handlers to the domain services.
type Server struct {
	cfg      *config.Config
	sessions *session.Service
	commands *command.Service
	gateway  *gateway.Gateway
	secrets  secrets.Store
	log      *slog.Logger
	metrics  *telemetry.Metrics

	httpSrv *http.Server
}

func NewServer(cfg *config.Config, sessions *session.Service, commands *command.Service,
	gw *gateway.Gateway, secretStore secrets.Store, logger *slog.Logger, metrics *telemetry.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		commands: commands,
		gateway:  gw,
		secrets:  secretStore,
		log:      logger.With("component", "api"),
		metrics:  metrics,
	}
}

// Handler builds the full route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("POST /api/sessions", s.authed(s.handleCreateSession))
	mux.Handle("GET /api/sessions", s.authed(s.handleListSessions))
	mux.Handle("GET /api/sessions/{id}", s.authed(s.handleGetSession))
	mux.Handle("DELETE /api/sessions/{id}", s.authed(s.handleDeleteSession))
	mux.Handle("POST /api/sessions/{id}/exec", s.authed(s.handleExec))
	mux.Handle("POST /api/sessions/{id}/files", s.authed(s.handleUploadFile))
	mux.Handle("GET /api/sessions/{id}/files/{name}", s.authed(s.handleDownloadFile))
	mux.Handle("GET /api/sessions/{id}/ws", s.authed(s.handleTerminal))

	mux.Handle("GET /api/credentials", s.authed(s.handleListCredentials))
	mux.Handle("PUT /api/credentials/{name}", s.authed(s.handlePutCredential))
	mux.Handle("DELETE /api/credentials/{name}", s.authed(s.handleDeleteCredential))

	return s.instrument(mux)
}

// Start serves until the context is cancelled, then drains.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API listening", "addr", s.cfg.ListenAddr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
