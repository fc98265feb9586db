// Package server exposes the message API and the task update stream over
// HTTP on the local machine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sdejongh/fetchferry/pkg/broadcast"
	"github.com/sdejongh/fetchferry/pkg/logging"
	"github.com/sdejongh/fetchferry/pkg/metrics"
	"github.com/sdejongh/fetchferry/pkg/models"
	"github.com/sdejongh/fetchferry/pkg/rpc"
)

// maxMessageSize bounds one message API request body
const maxMessageSize = 1 << 20

// DefaultHeartbeat is the interval of keep-alive comments on the event stream
const DefaultHeartbeat = 15 * time.Second

// Options configures a Server
type Options struct {
	Listen          string
	ShutdownTimeout time.Duration
	// AllowedOrigins lists origins allowed by CORS; "*" allows any
	AllowedOrigins []string
	Heartbeat      time.Duration
}

// StatsFunc reports task counts per status for the health endpoint
type StatsFunc func() map[models.TaskStatus]int

// Server is the local HTTP API
type Server struct {
	httpServer *http.Server
	router     chi.Router
	dispatcher *rpc.Dispatcher
	hub        *broadcast.Hub
	stats      StatsFunc
	logger     logging.Logger
	opts       Options
}

// New builds the router and the HTTP server. stats may be nil.
func New(opts Options, dispatcher *rpc.Dispatcher, hub *broadcast.Hub, stats StatsFunc, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		dispatcher: dispatcher,
		hub:        hub,
		stats:      stats,
		logger:     logger,
		opts:       opts,
	}

	r := chi.NewRouter()
	r.Use(recoverer(logger))
	r.Use(requestLogger(logger))
	r.Use(metrics.Middleware)
	r.Use(cors(opts.AllowedOrigins))

	r.Post(rpc.RPCPath, s.handleRPC)
	r.Get(rpc.EventsPath, s.handleEvents)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	s.router = r

	// no WriteTimeout: the event stream is long-lived
	s.httpServer = &http.Server{
		Addr:              opts.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// closing the hub ends every open event stream so Shutdown can finish
	s.httpServer.RegisterOnShutdown(hub.Close)
	return s
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "HTTP server started", logging.Fields{"addr": ln.Addr().String()})
		err := s.httpServer.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	s.logger.Info(ctx, "shutting down HTTP server", nil)
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	s.logger.Info(ctx, "HTTP server stopped", nil)
	return nil
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageSize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, rpc.Response{Error: "failed to read request body"})
		return
	}

	resp := s.dispatcher.HandleMessage(r.Context(), body)
	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status      string                    `json:"status"`
	Listeners   int                       `json:"listeners"`
	ActiveTasks int                       `json:"activeTasks"`
	Tasks       map[models.TaskStatus]int `json:"tasks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Listeners: s.hub.Len()}
	if s.stats != nil {
		resp.Tasks = s.stats()
		for status, n := range resp.Tasks {
			if !status.IsTerminal() {
				resp.ActiveTasks += n
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
