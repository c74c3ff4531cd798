package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", s.handleSearchNodes)
			r.Post("/", s.handleCreateNode)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetNode)
				r.Put("/", s.handleUpdateNode)
				r.Patch("/", s.handlePatchNode)
				r.Delete("/", s.handleDeleteNode)
				r.Patch("/status", s.handleChangeStatus)
				r.Post("/messages", s.handleSendMessage)

				r.Route("/devices", func(r chi.Router) {
					r.Get("/", s.handleListSubDevices)
					r.Post("/", s.handleAddSubDevice)
					r.Patch("/", s.handleUpdateSubDevice)
					r.Delete("/", s.handleRemoveSubDevice)
				})
			})
		})

		r.Get("/accounts/{accountID}/node", s.handleGetAccountNode)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports liveness plus the state of the database and broker.
// It answers 503 only when the database is unreachable; a missing broker
// leaves the registry usable and is reported as degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"database":  s.check(r.Context(), s.db),
		"mqtt":      s.check(r.Context(), s.mqtt),
		"telemetry": s.check(r.Context(), s.telemetry),
	}

	status, code := "ok", http.StatusOK
	switch {
	case components["database"] == "down":
		status, code = "down", http.StatusServiceUnavailable
	case components["mqtt"] == "down", components["telemetry"] == "down":
		status = "degraded"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
		"ws_clients": s.hub.ClientCount(),
	})
}

func (s *Server) check(ctx context.Context, hc HealthChecker) string {
	if hc == nil {
		return "disabled"
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := hc.HealthCheck(ctx); err != nil {
		s.logger.Debug("health check failed", "error", err)
		return "down"
	}
	return "up"
}
