package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/keysettle/internal/sensor"
)

// StatusFunc reports the live sensor state for /status.
type StatusFunc func() sensor.Snapshot

// StatusResponse is the /status body.
type StatusResponse struct {
	State             string    `json:"state"`
	KeyCount          int       `json:"key_count"`
	InactivitySeconds int64     `json:"inactivity_seconds"`
	LastActivity      time.Time `json:"last_activity,omitempty"`
	BaselineRecorded  bool      `json:"baseline_recorded"`
}

// Server serves /metrics and /status.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewRouter builds the HTTP routes. Exposed for tests.
func NewRouter(gatherer prometheus.Gatherer, status StatusFunc) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		snap := status()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(StatusResponse{
			State:             string(snap.State),
			KeyCount:          snap.KeyCount,
			InactivitySeconds: snap.InactivitySeconds(),
			LastActivity:      snap.LastActivity,
			BaselineRecorded:  snap.BaselineRecorded,
		})
	}).Methods(http.MethodGet)
	return r
}

// NewServer creates a server listening on addr.
func NewServer(addr string, gatherer prometheus.Gatherer, status StatusFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(gatherer, status),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start listens in the background. The listener is bound before Start
// returns, so address errors surface immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("metrics server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
