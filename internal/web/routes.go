package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facetrack/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	s.router.Get("/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)
		r.Get("/stats", s.status.Stats)
		r.Get("/tracks", s.status.Tracks)
		r.Get("/attendance/{employeeID}/latest", s.status.LatestAttendance)
	})
}
