package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured. obs and
// metricsHandler may be nil; without metricsHandler /metrics is not mounted.
func NewRouter(h *Handler, obs RequestObserver, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(obs))
	r.Use(RecoveryMiddleware)

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Get("/placeholders", h.Placeholders)

			r.Get("/pillars", h.ListPillars)
			r.Post("/pillars", h.CreatePillar)
			r.Get("/pillars/{id}", h.GetPillar)

			r.Get("/metrics", h.ListMetrics)
			r.Post("/metrics", h.CreateMetric)
			r.Get("/metrics/{id}", h.GetMetric)
			r.Put("/metrics/{id}/value", h.UpdateMetricValue)

			r.Route("/integrations/{type}", func(r chi.Router) {
				r.Use(IntegrationTypeMiddleware)

				r.Get("/", h.GetIntegration)
				r.Post("/", h.SaveIntegration)
				r.Post("/sync", h.SyncIntegration)
				r.Get("/sync-logs", h.ListSyncLogs)
				r.Get("/properties", h.ListProperties)
				r.Delete("/properties", h.InvalidateProperties)

				r.Get("/mappings", h.ListMappings)
				r.Post("/mappings", h.CreateMapping)
				r.Put("/mappings/{id}", h.UpdateMapping)
				r.Delete("/mappings/{id}", h.DeleteMapping)
			})
		})
	})

	return r
}
