package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/targetd/internal/auth"
)

// healthCheckTimeout bounds each dependency check.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint (no auth required)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get(s.wsPath(), s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermTargetsRead))
				r.Get("/system", s.handleSystem)
				r.Get("/devices", s.handleListDevices)
				r.Get("/targets", s.handleGetTargets)
				r.Get("/selection", s.handleGetSelection)
				r.Get("/run-configs", s.handleListRunConfigs)
			})

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermSelectionWrite))
				r.Put("/selection/target", s.handleSelectTarget)
				r.Put("/selection/targets", s.handleSelectTargets)
				r.Put("/run-configs/active", s.handleSetActiveRunConfig)
			})

			r.With(requirePermission(auth.PermTargetLaunch)).Post("/launch", s.handleLaunch)

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermRunConfigManage))
				r.Post("/run-configs", s.handleCreateRunConfig)
				r.Delete("/run-configs/{name}", s.handleDeleteRunConfig)
			})

			r.With(requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status and the result of each
// dependency check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	_, ready := s.currentTargets()
	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"ready":   ready,
		"checks":  checks,
	})
}
