package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check run by /health.
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

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/gateways", func(r chi.Router) {
			r.Get("/", s.handleListGateways)
			r.Route("/{gateway}", func(r chi.Router) {
				r.Get("/", s.handleGetGateway)
				r.Get("/nodes", s.handleListNodes)
				r.Delete("/nodes/{node}", s.handleRemoveNode)
				r.Get("/devices", s.handleListGatewayDevices)
			})
		})

		r.Get("/entities", s.handleListEntities)

		r.Post("/devices/{gateway}/{node}/{child}/{type}", s.handleSetValue)
		r.Post("/covers/{gateway}/{node}/{child}/{action}", s.handleCoverAction)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// checkResult is one entry of the /health response.
type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth runs every configured dependency check. The response is 503
// when any check fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	results := make(map[string]checkResult, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			results[name] = checkResult{Status: "error", Error: err.Error()}
			continue
		}
		results[name] = checkResult{Status: "ok"}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"version":  s.version,
		"gateways": len(s.gateways.Gateways()),
		"checks":   results,
	})
}
