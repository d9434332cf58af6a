package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/stokehold/stoker/pkg/log"
)

// Server exposes the metrics and health endpoints on a dedicated
// listener so scrapes never contend with job traffic
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics server for addr, e.g. ":9090"
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/ready", ReadyHandler())
	mux.HandleFunc("/live", LivenessHandler())

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves in the background until Stop
func (s *Server) Start() {
	logger := log.WithComponent("metrics")
	go func() {
		logger.Info().Str("addr", s.addr).Msg("Metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Stop shuts the listener down, letting in-flight scrapes finish
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}
