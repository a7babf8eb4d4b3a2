package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type ctxKey int

const ownerKey ctxKey = iota

// ownerID returns the authenticated owner for the request.
func ownerID(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey).(string)
	return owner
}

// authed resolves the bearer token to an owner id. Tokens stand in for the
// upstream identity provider; the map comes from configuration.
func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		owner, ok := s.cfg.APITokens[token]
		if token == "" || !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid or missing token", Code: "unauthorized"})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ownerKey, owner)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// Websocket clients in browsers cannot set headers; allow the token as
	// a query parameter on those requests.
	return r.URL.Query().Get("token")
}

// statusRecorder captures the response code for the request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// instrument wraps the mux with request logging and metrics. Websocket
// upgrades bypass the recorder since hijacking needs the raw writer.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/ws") {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		if s.metrics != nil {
			s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
			s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(elapsed.Seconds())
		}
		s.log.Debug("Request handled", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", elapsed)
	})
}
