package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ptrevors/beurerd/internal/engine"
)

// diagnosticsDefaultLimit caps diagnostics listings when the client doesn't
// ask for a specific count.
const diagnosticsDefaultLimit = 50

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/diagnostics", s.handleDiagnostics)
		r.Post("/command", s.handleCommand)
		r.Post("/reconnect", s.handleReconnect)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"conn_state": s.eng.ConnState().String(),
	})
}

// handleState returns the current device state snapshot.
func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"conn_state": s.eng.ConnState().String(),
		"device":     s.eng.CurrentState(),
	})
}

// handleMetrics returns connection metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.ConnectionMetrics())
}

// handleDiagnostics returns the recent unknown observations and command
// audit records alongside the raw-notification fields of the state.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.diag == nil {
		writeNotFound(w, "diagnostics store not configured")
		return
	}

	limit := diagnosticsDefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	unknown, err := s.diag.RecentUnknown(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing unknown observations", "error", err)
		writeInternalError(w, "listing unknown observations")
		return
	}

	commands, err := s.diag.RecentCommands(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing command audit", "error", err)
		writeInternalError(w, "listing command audit")
		return
	}

	st := s.eng.CurrentState()
	writeJSON(w, http.StatusOK, map[string]any{
		"last_raw_notification": st.LastRawNotification,
		"heartbeat_count":       st.HeartbeatCount,
		"unknown_observations":  unknown,
		"command_audit":         commands,
	})
}

// handleCommand decodes a command, submits it to the engine and waits for
// the result. The wait is bounded by the request context, which the HTTP
// server's write timeout already caps.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd engine.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid command body: "+err.Error())
		return
	}
	if cmd.Intent == "" {
		writeBadRequest(w, "intent is required")
		return
	}

	err := <-s.eng.Submit(r.Context(), cmd)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"intent": cmd.Intent,
			"status": "ok",
		})
	case errors.Is(err, engine.ErrInvalidCommand):
		writeBadRequest(w, err.Error())
	case errors.Is(err, engine.ErrNotConnected), errors.Is(err, engine.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "command cancelled before completion")
	default:
		s.logger.Error("command failed", "intent", string(cmd.Intent), "error", err)
		writeInternalError(w, err.Error())
	}
}

// handleReconnect forces a session teardown and reconnect.
func (s *Server) handleReconnect(w http.ResponseWriter, _ *http.Request) {
	s.eng.ForceReconnect()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "reconnect requested",
	})
}
