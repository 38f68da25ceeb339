package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/evidence-faces/internal/web/handlers"
	"github.com/kozaktomas/evidence-faces/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	matchesHandler := handlers.NewMatchesHandler(s.reader, s.logger)
	searchHandler := handlers.NewSearchHandler(s.engine, s.logger)

	// Health check and metrics (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.Web.APIToken))

		// Persisted records
		r.Get("/matches", matchesHandler.List)
		r.Get("/matches/unidentified", matchesHandler.Unidentified)
		r.Get("/subjects/top", matchesHandler.TopSubjects)

		// On-demand search
		r.Post("/search", searchHandler.Search)
	})
}
