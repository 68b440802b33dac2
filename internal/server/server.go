// ABOUTME: Server orchestrator that coordinates the HTTP server lifecycle
// ABOUTME: Manages store, hub, lifecycle manager, and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/hub"
	"github.com/hookline/hookline/internal/lifecycle"
	"github.com/hookline/hookline/internal/relay"
	"github.com/hookline/hookline/internal/store"
)

// Server orchestrates the hookline components behind the HTTP surface.
type Server struct {
	config     *config.Config
	store      store.EventStore
	hub        *hub.Hub
	lifecycle  *lifecycle.Manager
	httpServer *http.Server
	logger     *slog.Logger

	// serverID identifies this server instance
	serverID string
}

// initStore creates the store based on config and environment.
func initStore(cfg *config.Config) (store.EventStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("HOOKLINE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a server from configuration. In-flight HITL timers do not
// survive restarts, so rows left pending by a previous process are swept
// to timeout before the server starts accepting traffic.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	sweepCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := st.ExpirePending(sweepCtx, store.NowMillis()); err != nil {
		st.Close()
		return nil, fmt.Errorf("sweeping stale pending requests: %w", err)
	}

	wsRelay := relay.NewWebSocketRelay(cfg.HITL.DeliveryTimeout, logger)
	lc := lifecycle.NewManager(st, wsRelay, logger)
	h := hub.New(st, lc, logger)

	s := &Server{
		config:    cfg,
		store:     st,
		hub:       h,
		lifecycle: lc,
		logger:    logger.With("component", "server"),
		serverID:  uuid.New().String(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleIngest)
	mux.HandleFunc("/events/", s.handleEventsSubtree)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler exposes the HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server and closes the components in dependency
// order: no new requests, then fan-out, then timers and in-flight
// deliveries, then the store.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down HTTP server: %w", err))
	}

	s.hub.Close()
	s.lifecycle.Close()

	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}

	s.logger.Info("server stopped", "server_id", s.serverID)
	return errors.Join(errs...)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// Ready once the store answers queries
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.store.ListRecentEvents(ctx, 1); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ready")
}
