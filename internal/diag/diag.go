// Package diag is the small HTTP server each client binary embeds for
// operational visibility: liveness, readiness keyed to the transport
// session, Prometheus metrics, and a JSON snapshot of actor state.
package diag

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ridelink/internal/transport"
)

// Server serves the diagnostics endpoints.
type Server struct {
	mux    *mux.Router
	logger *slog.Logger

	// sessionStatus and snapshot pull live state from the owning actor.
	sessionStatus func() transport.Status
	snapshot      func() any
}

// NewServer builds the diag router for one client binary.
func NewServer(logger *slog.Logger, sessionStatus func() transport.Status, snapshot func() any) *Server {
	s := &Server{
		mux:           mux.NewRouter(),
		logger:        logger,
		sessionStatus: sessionStatus,
		snapshot:      snapshot,
	}
	s.registerMiddleware()
	s.registerRoutes()
	return s
}

// Handler exposes the router for http.Server wiring.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.mux.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	s.mux.HandleFunc("/statusz", s.handleStatusz).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports ready only while the transport session is live. A
// session in terminal error needs operator attention; mid-reconnect
// reports not-ready without alarming.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	st := s.sessionStatus()
	code := http.StatusOK
	if st != transport.StatusConnected {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"session": string(st)})
}

func (s *Server) handleStatusz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string {
	return uuid.NewString()
}
