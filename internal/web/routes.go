package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/facegraph/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	facesHandler := handlers.NewFacesHandler(s.faces, s.logger)
	classifyHandler := handlers.NewClassifyHandler(s.classifier, s.logger)
	configHandler := handlers.NewConfigHandler(s.config)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/config", configHandler.Get)

		// Faces
		r.Post("/faces/{userId}/process", facesHandler.Process)
		r.Get("/faces/{userId}", facesHandler.List)
		r.Patch("/faces/{userId}/{personId}/rename", facesHandler.Rename)
		r.Delete("/faces/{userId}/{imageId}", facesHandler.DeleteImage)

		// Scene classification
		r.Post("/classify", classifyHandler.Classify)
	})
}
