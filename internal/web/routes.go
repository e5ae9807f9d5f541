package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/rollcall/internal/web/handlers"
)

// requestTimeout bounds every request except event streams.
const requestTimeout = 2 * time.Minute

func (s *Server) setupRoutes() {
	configHandler := handlers.NewConfigHandler(s.config, s.deps.Model)
	identitiesHandler := handlers.NewIdentitiesHandler(s.deps.Identities, s.deps.Enroller, s.deps.Camera, s.config.Camera)
	sessionsHandler := handlers.NewSessionsHandler(s.deps.Manager, s.deps.Identities, s.deps.Attendance, s.deps.History)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Long-lived SSE stream, outside the request timeout
		r.Get("/sessions/{id}/events", sessionsHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			r.Get("/health", handlers.HealthCheck)
			r.Get("/config", configHandler.Get)

			// Roster
			r.Get("/identities", identitiesHandler.List)
			r.Put("/identities/{id}", identitiesHandler.Upsert)
			r.Delete("/identities/{id}", identitiesHandler.Delete)
			r.Post("/identities/{id}/enroll", identitiesHandler.Enroll)
			r.Post("/identities/{id}/enroll/camera", identitiesHandler.EnrollCamera)

			// Sessions
			r.Post("/sessions", sessionsHandler.Start)
			r.Get("/sessions", sessionsHandler.List)
			r.Get("/sessions/{id}", sessionsHandler.Get)
			r.Delete("/sessions/{id}", sessionsHandler.Stop)
			r.Post("/sessions/{id}/pause", sessionsHandler.Pause)
			r.Post("/sessions/{id}/resume", sessionsHandler.Resume)
			r.Get("/sessions/{id}/attendance", sessionsHandler.Attendance)
		})
	})
}
