package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency check made by /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
//
//	GET  /health
//	GET  /metrics
//	GET  /ws
//	GET  /api
//	GET  /api/{version}/
//	GET  /api/{version}/adapters/[{adapter}/{path...}]
//	ANY  /api/{version}/{adapter}/{path...}
//	GET  /*  static content, when configured
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())
	r.Get(s.wsCfg.Path, s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/", s.handleAPIVersion)

		r.Route("/{version}", func(r chi.Router) {
			r.Use(s.versionMiddleware)

			r.Get("/", s.handleAPIVersion)
			r.HandleFunc("/adapters", s.handleDiscovery)
			r.HandleFunc("/adapters/*", s.handleDiscovery)
			r.HandleFunc("/{adapter}", s.handleAdapter)
			r.HandleFunc("/{adapter}/*", s.handleAdapter)
		})
	})

	if s.static != nil {
		r.Handle("/*", s.static)
	}

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        s.version,
		"api_version":    s.cfg.Version,
		"adapters":       s.registry.Len(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"components":     components,
	})
}
