// Package api provides the HTTP REST API and WebSocket server for beurerd.
//
// It exposes the lamp's state, connection metrics and diagnostics, accepts
// command submissions, and pushes state changes to WebSocket clients.
//
// The server follows the same lifecycle pattern as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ptrevors/beurerd/internal/engine"
	"github.com/ptrevors/beurerd/internal/infrastructure/config"
	"github.com/ptrevors/beurerd/internal/infrastructure/logging"
	"github.com/ptrevors/beurerd/internal/observations"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Engine is the lamp engine surface the API exposes.
// Satisfied by *engine.Manager; tests use a fake.
type Engine interface {
	// CurrentState returns the latest device state snapshot.
	CurrentState() engine.DeviceState

	// ConnState returns the connection state machine's current state.
	ConnState() engine.ConnectionState

	// ConnectionMetrics returns a snapshot of connection counters.
	ConnectionMetrics() engine.MetricsSnapshot

	// Submit queues a command and returns its result channel.
	Submit(ctx context.Context, cmd engine.Command) <-chan error

	// ForceReconnect tears down the current session and reconnects.
	ForceReconnect()

	// OnStateChange registers a listener for device state changes.
	OnStateChange(fn func(engine.DeviceState))
}

// Diagnostics provides read access to the observation and audit logs.
// Satisfied by *observations.Store; optional.
type Diagnostics interface {
	// RecentUnknown returns the newest unknown-frame observations.
	RecentUnknown(ctx context.Context, limit int) ([]observations.UnknownObservation, error)

	// RecentCommands returns the newest command audit records.
	RecentCommands(ctx context.Context, limit int) ([]engine.CommandRecord, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Engine      Engine
	Diagnostics Diagnostics // optional; diagnostics endpoint returns 404 when nil
	Version     string
}

// Server is the HTTP API server for beurerd.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	eng     Engine
	diag    Diagnostics
	version string
	server  *http.Server
	hub     *Hub
	cancel  context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, engine)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger.With("component", "api"),
		eng:     deps.Engine,
		diag:    deps.Diagnostics,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, registers the engine
// state listener for real-time broadcast, and launches the HTTP listener
// in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop the hub independently of the
	// parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	// Relay engine state changes to WebSocket clients.
	s.eng.OnStateChange(func(st engine.DeviceState) {
		s.hub.Broadcast(ChannelState, st)
	})

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
