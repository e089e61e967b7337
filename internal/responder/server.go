package responder

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/vitalisomni/internal/metrics"
	"github.com/normanking/vitalisomni/internal/omni"
)

// DefaultAddr matches the endpoint the desktop client posts to.
const DefaultAddr = "127.0.0.1:8000"

// ChatResponse is the body of a successful chat reply.
type ChatResponse struct {
	Response string `json:"response"`
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

type healthChecker interface {
	Health(ctx context.Context) error
}

// Server serves the responder over HTTP along with /health and /metrics.
type Server struct {
	responder  *Responder
	health     healthChecker
	httpServer *http.Server
	startTime  time.Time
	logger     zerolog.Logger
}

// NewServer creates a server for addr. If dir can report health, /health uses
// it.
func NewServer(addr string, dir Directory, logger zerolog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		responder: New(dir, logger),
		startTime: time.Now(),
		logger:    logger.With().Str("component", "server").Logger(),
	}
	if hc, ok := dir.(healthChecker); ok {
		s.health = hc
	}

	mux := http.NewServeMux()
	mux.Handle(omni.ChatPath, metrics.Instrument(omni.ChatPath, http.HandlerFunc(s.chatHandler)))
	mux.Handle("/health", metrics.Instrument("/health", http.HandlerFunc(s.healthHandler)))
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routing handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server starting")
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	message := strings.TrimSpace(r.PostFormValue("message"))
	if message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	reply, err := s.responder.Respond(r.Context(), message)
	if err != nil {
		s.logger.Error().Err(err).Msg("Responder failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{Response: reply})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "healthy",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	}
	status := http.StatusOK
	if s.health != nil {
		if err := s.health.Health(r.Context()); err != nil {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
