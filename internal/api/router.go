package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component probe in /health.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/help", s.handleHelp)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	// Legacy API and TEDAPI passthrough
	r.Get("/api/*", s.handlePoll)
	r.Get("/tedapi/*", s.handlePoll)
	for _, path := range []string{"/vitals", "/fans", "/alerts", "/temps", "/battery"} {
		r.Get(path, s.handlePoll)
	}

	// Shapes with front-door policy applied
	r.Get("/api/meters/aggregates", s.handleAggregates)
	r.Get("/aggregates", s.handleAggregates)
	r.Get("/api/system_status/soe", s.handleAppSOE)
	r.Get("/soe", s.handleSOE)
	r.Get("/csv", s.handleCSV)
	r.Get("/freq", s.handleFreq)
	r.Get("/pod", s.handlePod)
	r.Get("/version", s.handleVersion)
	r.Get("/temps/pw", s.handleTempsPW)
	r.Get("/alerts/pw", s.handleAlertsPW)
	r.Get("/strings", s.handleStrings)

	r.Get("/stats", s.handleStats)
	r.Get("/stats/clear", s.handleStatsClear)

	r.Route("/control", func(r chi.Router) {
		r.Post("/{action}", s.handleControl)
		r.Get("/reserve", s.handleGetReserve)
		r.Get("/mode", s.handleGetMode)
		r.Get("/audit", s.handleAudit)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.stats.error()
		writeError(w, http.StatusNotFound, "Unknown API: "+r.URL.Path)
	})

	return r
}

// handleHealth probes every configured component. Any failure turns the
// response into 503 with per-component detail.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"checks":  checks,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if s.gateway != nil {
		body["gateway"] = s.gateway.Host()
		body["gen3"] = s.gateway.Gen3()
	}
	writeJSON(w, status, body)
}

// handleHelp lists the dispatch table.
func (s *Server) handleHelp(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":         s.version,
		"control_enabled": s.dispatcher.ControlEnabled(),
		"endpoints":       s.dispatcher.Endpoints(),
	})
}
