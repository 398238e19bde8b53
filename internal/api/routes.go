package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	// Every data route is tenant-scoped; the tenant id in the path is the
	// isolation boundary.
	r.Route("/api/tenants/{tenantID}", func(r chi.Router) {
		r.Post("/runs", h.TriggerRun)
		r.Get("/runs/latest", h.LatestRun)

		r.Route("/predictions/{snapshotID}", func(r chi.Router) {
			r.Get("/", h.ListPredictions)
			r.Get("/segments", h.SegmentCounts)
			r.Get("/customers/{customerID}", h.GetPrediction)
			r.Get("/customers/{customerID}/explanation", h.GetExplanation)
		})

		r.Get("/allocations/{snapshotID}", h.GetAllocation)

		r.Route("/snapshots/{modelName}", func(r chi.Router) {
			r.Get("/", h.ListSnapshots)
			r.Get("/current", h.GetCurrentSnapshot)
			r.Post("/rollback", h.Rollback)
		})
	})

	return r
}
