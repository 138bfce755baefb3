package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", s.handleHealthz)

		// Hub endpoints
		r.Route("/hubs", func(r chi.Router) {
			r.Get("/", s.handleListHubs)

			r.Route("/{hubID}", func(r chi.Router) {
				r.Get("/", s.handleGetHub)
				r.Post("/refresh", s.handleRefreshHub)
				r.Get("/transitions", s.handleListTransitions)

				r.Route("/devices", func(r chi.Router) {
					r.Get("/", s.handleListDevices)
					r.Get("/{deviceID}", s.handleGetDevice)
				})
			})
		})

		// Event journal
		r.Get("/events", s.handleListEvents)

		// WebSocket
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealthz returns the server health status.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"hubs":    len(s.store.HubIDs()),
	})
}
