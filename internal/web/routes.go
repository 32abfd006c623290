package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

const (
	healthPath  = "/api/v1/health"
	metricsPath = "/metrics"
)

func (s *Server) setupRoutes(h Handlers) {
	// Health check (no rate limit)
	s.router.Get(healthPath, h.Health.Check)

	if h.Metrics != nil {
		s.router.Handle(metricsPath, h.Metrics)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		// Ingestion and administration
		if h.Index != nil {
			r.Group(func(r chi.Router) {
				r.Use(s.indexLimiter.Handler)

				r.Post("/index", h.Index.Index)
				r.Post("/index/batch", h.Index.Batch)
				r.Get("/index/jobs/{job_id}", h.Index.JobStatus)
				r.Delete("/index/{session_id}", h.Index.DeleteSession)
				r.Delete("/index/{session_id}/{photo_id}", h.Index.DeletePhoto)
				r.Post("/sessions/{session_id}/sync", h.Index.Sync)
			})
		}

		// Search and read-only session lookups
		r.Group(func(r chi.Router) {
			r.Use(s.searchLimiter.Handler)

			r.Post("/search", h.Search.Search)
			r.Post("/search/embedding", h.Search.SearchEmbedding)
			r.Get("/search/status/{session_id}", h.Sessions.IndexStatus)
			r.Get("/sessions/{session_id}", h.Sessions.Get)
			r.Get("/sessions/{session_id}/facepass-status", h.Sessions.FacepassStatus)
			r.Get("/sessions/validate/{session_id}", h.Sessions.Validate)
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}` + "\n"))
	})
}
